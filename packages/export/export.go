// Package export writes run metrics for external systems.
package export

import (
	"errors"

	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
)

// Exporter is the interface for metrics exporters
type Exporter interface {
	// Export exports the summary to the target destination
	Export(summary *metrics.Summary) error

	// Close closes the exporter and flushes any buffered data
	Close() error
}

// Exporters fans a summary out to several exporters.
type Exporters []Exporter

// Export exports to every exporter and joins their errors
func (e Exporters) Export(summary *metrics.Summary) error {
	var errs []error
	for _, exp := range e {
		if err := exp.Export(summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every exporter
func (e Exporters) Close() error {
	var errs []error
	for _, exp := range e {
		if err := exp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
