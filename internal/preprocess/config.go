package preprocess

import "fmt"

const (
	// DefaultTargetDPI is the minimum effective resolution Audiveris works well with.
	DefaultTargetDPI = 300

	maxTargetDPI = 1200
)

// Config controls which preprocessing stages run. It is immutable once
// validated and safe to share across concurrent jobs.
type Config struct {
	TargetDPI             int
	Deskew                bool
	PerspectiveCorrection bool
	Denoise               bool
	Binarize              bool
}

// DefaultConfig returns the configuration used when a job specifies nothing.
func DefaultConfig() Config {
	return Config{
		TargetDPI:             DefaultTargetDPI,
		Deskew:                true,
		PerspectiveCorrection: true,
		Denoise:               true,
		Binarize:              true,
	}
}

// Validate rejects configurations before any pixel work happens.
func (c Config) Validate() error {
	if c.TargetDPI <= 0 {
		return fmt.Errorf("target DPI must be positive, got %d", c.TargetDPI)
	}
	if c.TargetDPI > maxTargetDPI {
		return fmt.Errorf("target DPI %d exceeds maximum %d", c.TargetDPI, maxTargetDPI)
	}
	return nil
}
