package bbu

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

// Registry holds the update handlers of a board. Handlers are registered
// at startup and never removed.
type Registry struct {
	handlers []Handler
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log}
}

func (r *Registry) Register(h Handler) error {
	for _, e := range r.handlers {
		if e.Name() == h.Name() {
			return fmt.Errorf("handler %s: %w", h.Name(), errs.ErrExist)
		}
		if h.Flags()&FlagDefault != 0 && e.Flags()&FlagDefault != 0 {
			return fmt.Errorf("handler %s: %s is already the default: %w", h.Name(), e.Name(), errs.ErrBusy)
		}
	}

	r.handlers = append(r.handlers, h)
	r.log.Debug("update handler registered", "name", h.Name(), "device", h.DeviceFile())
	return nil
}

func (r *Registry) Lookup(name string) (Handler, error) {
	for _, h := range r.handlers {
		if h.Name() == name {
			return h, nil
		}
	}
	return nil, fmt.Errorf("update handler %q: %w", name, errs.ErrNotFound)
}

func (r *Registry) Default() (Handler, error) {
	for _, h := range r.handlers {
		if h.Flags()&FlagDefault != 0 {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no default update handler: %w", errs.ErrNotFound)
}

func (r *Registry) Handlers() []Handler {
	return append([]Handler(nil), r.handlers...)
}

func (r *Registry) lookupDevice(device string) (Handler, error) {
	device = strings.TrimPrefix(device, "/dev/")
	for _, h := range r.handlers {
		if strings.TrimPrefix(h.DeviceFile(), "/dev/") == device {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no update handler for %s: %w", device, errs.ErrNotFound)
}

func (r *Registry) selectHandler(data *Data) (Handler, error) {
	switch {
	case data.HandlerName != "":
		return r.Lookup(data.HandlerName)
	case data.DeviceFile != "":
		return r.lookupDevice(data.DeviceFile)
	}
	return r.Default()
}

// Update runs the handler selected by data: the one named by HandlerName,
// else the one owning DeviceFile, else the default one.
func (r *Registry) Update(env *Env, data *Data) error {
	h, err := r.selectHandler(data)
	if err != nil {
		return err
	}

	if data.DeviceFile == "" {
		data.DeviceFile = h.DeviceFile()
	}
	data.HandlerName = h.Name()
	data.ImageType = filetype.Detect(data.Image)

	if env.Logger == nil {
		env.Logger = r.log
	}

	r.log.Info("updating", "handler", h.Name(), "device", data.DeviceFile,
		"image", data.ImageFile, "type", data.ImageType, "size", len(data.Image))

	if err := h.Update(env, data); err != nil {
		return err
	}

	r.log.Info("update done", "handler", h.Name(), "device", data.DeviceFile)
	return nil
}
