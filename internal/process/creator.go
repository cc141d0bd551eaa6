package process

import (
	"log/slog"

	"github.com/loykin/dirvisor/internal/config"
	"github.com/loykin/dirvisor/internal/env"
)

// Creator launches a detached child for cfg and returns its pid. The
// supervisor never waits on the child; liveness is tracked via the pid and
// its start time.
type Creator interface {
	Spawn(cfg config.ServiceConfig) (int, error)
}

// CreatorOptions configures NewCreator.
type CreatorOptions struct {
	// Env supplies the base and global layers; the service environment is
	// merged on top. Nil means an empty base.
	Env *env.Env
	// Shipper is the log shipper argv; "{name}" is replaced with the service
	// name. Empty sends child output to the null device.
	Shipper []string
	// Executable is the binary re-executed as the spawn helper on POSIX.
	// Defaults to os.Executable().
	Executable string
	Logger     *slog.Logger
}

func (o CreatorOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o CreatorOptions) environ(cfg config.ServiceConfig) []string {
	e := o.Env
	if e == nil {
		e = env.New()
	}
	return e.Merge(cfg.Environment)
}

// NewCreator returns the platform's Creator.
func NewCreator(opts CreatorOptions) Creator {
	return newPlatformCreator(opts)
}
