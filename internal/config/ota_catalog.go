package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// OTAProvider is one entry of the channel catalog credentials may reference.
type OTAProvider struct {
	ID   string `mapstructure:"id" json:"id"`
	Name string `mapstructure:"name" json:"name"`
}

type OTACatalog struct {
	Providers []OTAProvider `mapstructure:"providers"`
}

// Lookup returns the provider with the given id.
func (c OTACatalog) Lookup(id string) (OTAProvider, bool) {
	id = strings.TrimSpace(id)
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return OTAProvider{}, false
}

func DefaultOTACatalog() OTACatalog {
	return OTACatalog{
		Providers: []OTAProvider{
			{ID: "bookingcom", Name: "Booking.com"},
			{ID: "expedia", Name: "Expedia"},
		},
	}
}

type OTACatalogHolder struct {
	current atomic.Value // holds OTACatalog
}

// NewOTACatalogHolderWith returns a holder fixed to the given catalog.
func NewOTACatalogHolderWith(catalog OTACatalog) (*OTACatalogHolder, error) {
	normalized, err := normalizeOTACatalog(catalog)
	if err != nil {
		return nil, err
	}
	holder := &OTACatalogHolder{}
	holder.current.Store(normalized)
	return holder, nil
}

// NewOTACatalogHolder reads ota_providers.yml and reloads it on change.
func NewOTACatalogHolder(log *zap.Logger) (*OTACatalogHolder, error) {
	log = log.Named("config.ota")

	v := viper.New()
	v.SetConfigName("ota_providers")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/folio")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	catalog := DefaultOTACatalog()
	if fileFound {
		var loaded OTACatalog
		if err := v.UnmarshalKey("ota", &loaded); err != nil {
			return nil, err
		}
		catalog = loaded
	}

	holder, err := NewOTACatalogHolderWith(catalog)
	if err != nil {
		return nil, err
	}

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated OTACatalog
			if err := v.UnmarshalKey("ota", &updated); err != nil {
				log.Warn("ota catalog reload failed", zap.Error(err))
				return
			}
			normalized, err := normalizeOTACatalog(updated)
			if err != nil {
				log.Warn("invalid ota catalog ignored", zap.Error(err))
				return
			}
			holder.current.Store(normalized)
			log.Info("ota catalog reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *OTACatalogHolder) Get() OTACatalog {
	return h.current.Load().(OTACatalog)
}

func normalizeOTACatalog(cfg OTACatalog) (OTACatalog, error) {
	if len(cfg.Providers) == 0 {
		return OTACatalog{}, errors.New("ota.providers cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Providers))
	out := OTACatalog{Providers: make([]OTAProvider, 0, len(cfg.Providers))}
	for _, p := range cfg.Providers {
		name := strings.TrimSpace(p.Name)
		id := strings.TrimSpace(p.ID)
		if id == "" {
			id = name
		}
		id = strings.ReplaceAll(slug.Make(id), "-", "")
		if id == "" {
			return OTACatalog{}, errors.New("ota provider id cannot be empty")
		}
		if _, dup := seen[id]; dup {
			return OTACatalog{}, fmt.Errorf("duplicate ota provider %q", id)
		}
		seen[id] = struct{}{}
		if name == "" {
			name = id
		}
		out.Providers = append(out.Providers, OTAProvider{ID: id, Name: name})
	}
	return out, nil
}
