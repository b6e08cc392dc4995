package pscl

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/blakebarnett/thymos/errs"
)

// Config selects and configures a PubSub backend, the same shape of
// decision the teacher's config.go makes for embeddings/provider selection
// (internal/config.go's ProviderConfig), generalized to pscl's three
// backends.
type Config struct {
	Backend          BackendType
	DistributedDBPath string // required for Distributed and Hybrid
}

// NewFromConfig constructs the PubSub implementation named by cfg.Backend.
func NewFromConfig(cfg Config, log zerolog.Logger) (PubSub, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocal(log), nil
	case BackendDistributed:
		if cfg.DistributedDBPath == "" {
			return nil, errs.New(errs.Validation, "pscl.NewFromConfig", fmt.Errorf("distributed backend requires DistributedDBPath"))
		}
		return OpenDistributed(cfg.DistributedDBPath, log)
	case BackendHybrid:
		if cfg.DistributedDBPath == "" {
			return nil, errs.New(errs.Validation, "pscl.NewFromConfig", fmt.Errorf("hybrid backend requires DistributedDBPath"))
		}
		dist, err := OpenDistributed(cfg.DistributedDBPath, log)
		if err != nil {
			return nil, err
		}
		return NewHybrid(NewLocal(log), dist, log), nil
	default:
		return nil, errs.New(errs.Validation, "pscl.NewFromConfig", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}
