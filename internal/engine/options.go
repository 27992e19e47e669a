package engine

import "github.com/tuannm99/tinytx/internal/bufferpool"

type options struct {
	name         string
	poolCapacity int
}

type Option func(*options)

func defaultOptions() *options {
	return &options{
		name:         "tinytx",
		poolCapacity: bufferpool.DefaultCapacity,
	}
}

// WithName sets the base name of the data and log files
// ("<name>.db", "<name>.db.log").
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithPoolCapacity bounds the buffer pool to n pages; 0 keeps it unbounded.
func WithPoolCapacity(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.poolCapacity = n
		}
	}
}
