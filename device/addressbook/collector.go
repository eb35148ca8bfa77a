package addressbook

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kabili207/contactindex/core"
)

// Compile-time interface check.
var _ prometheus.Collector = (*Collector)(nil)

// Collector exports a Book's counters and sizes to Prometheus.
type Collector struct {
	book *Book

	loads           *prometheus.Desc
	loadsFailed     *prometheus.Desc
	restores        *prometheus.Desc
	partialRebuilds *prometheus.Desc
	inserts         *prometheus.Desc
	deletes         *prometheus.Desc
	externalChanges *prometheus.Desc
	archiveErrors   *prometheus.Desc

	contacts     *prometheus.Desc
	withoutPhone *prometheus.Desc
	sections     *prometheus.Desc
	status       *prometheus.Desc

	gateExecuted *prometheus.Desc
	gateFailed   *prometheus.Desc
	gateOpens    *prometheus.Desc
	gatePending  *prometheus.Desc
}

// NewCollector creates a collector for b.
func NewCollector(b *Book) *Collector {
	return &Collector{
		book: b,

		loads: prometheus.NewDesc(
			"contactindex_loads_total",
			"Total number of successful full loads",
			nil, nil,
		),
		loadsFailed: prometheus.NewDesc(
			"contactindex_loads_failed_total",
			"Total number of loads aborted by an enumeration error",
			nil, nil,
		),
		restores: prometheus.NewDesc(
			"contactindex_restores_total",
			"Total number of loads served from the snapshot archive",
			nil, nil,
		),
		partialRebuilds: prometheus.NewDesc(
			"contactindex_partial_rebuilds_total",
			"Total number of archived parts rebuilt from the contact table",
			nil, nil,
		),
		inserts: prometheus.NewDesc(
			"contactindex_inserts_total",
			"Total number of records filed incrementally",
			nil, nil,
		),
		deletes: prometheus.NewDesc(
			"contactindex_deletes_total",
			"Total number of records removed incrementally",
			nil, nil,
		),
		externalChanges: prometheus.NewDesc(
			"contactindex_external_changes_total",
			"Total number of external change notifications from the record store",
			nil, nil,
		),
		archiveErrors: prometheus.NewDesc(
			"contactindex_archive_errors_total",
			"Total number of failed snapshot archive writes",
			nil, nil,
		),

		contacts: prometheus.NewDesc(
			"contactindex_contacts",
			"Number of contacts in the index",
			nil, nil,
		),
		withoutPhone: prometheus.NewDesc(
			"contactindex_contacts_without_phone",
			"Number of contacts without a usable phone number",
			nil, nil,
		),
		sections: prometheus.NewDesc(
			"contactindex_sections",
			"Number of populated sections in the primary index",
			nil, nil,
		),
		status: prometheus.NewDesc(
			"contactindex_status",
			"Engine status, 1 for the current status",
			[]string{"status"}, nil,
		),

		gateExecuted: prometheus.NewDesc(
			"contactindex_gate_executed_total",
			"Total number of operations run on the access gate",
			nil, nil,
		),
		gateFailed: prometheus.NewDesc(
			"contactindex_gate_failed_total",
			"Total number of access gate operations that failed",
			nil, nil,
		),
		gateOpens: prometheus.NewDesc(
			"contactindex_gate_handle_opens_total",
			"Total number of record store handles opened",
			nil, nil,
		),
		gatePending: prometheus.NewDesc(
			"contactindex_gate_pending",
			"Number of operations waiting on the access gate",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.loads
	ch <- c.loadsFailed
	ch <- c.restores
	ch <- c.partialRebuilds
	ch <- c.inserts
	ch <- c.deletes
	ch <- c.externalChanges
	ch <- c.archiveErrors
	ch <- c.contacts
	ch <- c.withoutPhone
	ch <- c.sections
	ch <- c.status
	ch <- c.gateExecuted
	ch <- c.gateFailed
	ch <- c.gateOpens
	ch <- c.gatePending
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := c.book.Counters()
	ch <- prometheus.MustNewConstMetric(c.loads, prometheus.CounterValue, float64(counters.Loads))
	ch <- prometheus.MustNewConstMetric(c.loadsFailed, prometheus.CounterValue, float64(counters.LoadsFailed))
	ch <- prometheus.MustNewConstMetric(c.restores, prometheus.CounterValue, float64(counters.Restores))
	ch <- prometheus.MustNewConstMetric(c.partialRebuilds, prometheus.CounterValue, float64(counters.PartialRebuilds))
	ch <- prometheus.MustNewConstMetric(c.inserts, prometheus.CounterValue, float64(counters.Inserts))
	ch <- prometheus.MustNewConstMetric(c.deletes, prometheus.CounterValue, float64(counters.Deletes))
	ch <- prometheus.MustNewConstMetric(c.externalChanges, prometheus.CounterValue, float64(counters.ExternalChanges))
	ch <- prometheus.MustNewConstMetric(c.archiveErrors, prometheus.CounterValue, float64(counters.ArchiveErrors))

	ch <- prometheus.MustNewConstMetric(c.contacts, prometheus.GaugeValue, float64(c.book.ContactsCount()))
	ch <- prometheus.MustNewConstMetric(c.withoutPhone, prometheus.GaugeValue, float64(len(c.book.ContactsWithoutPhone())))
	ch <- prometheus.MustNewConstMetric(c.sections, prometheus.GaugeValue, float64(len(c.book.SectionKeys())))

	current := c.book.Status()
	for _, s := range []core.Status{core.StatusOffline, core.StatusInitializing, core.StatusLoading, core.StatusOnline} {
		v := 0.0
		if s == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, v, s.String())
	}

	gs := c.book.GateStats()
	ch <- prometheus.MustNewConstMetric(c.gateExecuted, prometheus.CounterValue, float64(gs.Executed))
	ch <- prometheus.MustNewConstMetric(c.gateFailed, prometheus.CounterValue, float64(gs.Failed))
	ch <- prometheus.MustNewConstMetric(c.gateOpens, prometheus.CounterValue, float64(gs.Opens))
	ch <- prometheus.MustNewConstMetric(c.gatePending, prometheus.GaugeValue, float64(gs.Pending))
}
