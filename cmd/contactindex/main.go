// Command contactindex loads a YAML contact document into an indexed
// address book, answers lookups against it and, in watch mode, keeps it
// current while publishing change events over MQTT.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
