package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/utils"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/domain"
)

var ErrDuplicateHost = errors.New("duplicate blacklist host")

// BlacklistConfig is one entry of the blacklists file:
//
//	blacklists:
//	  - host: dnsbl.example.org
//	    reject_reason: "Your address is listed"
//	    types: [ipv4, ipv6]
//	    filters: ["2", "127.0.0.4"]
type BlacklistConfig struct {
	Host         string   `koanf:"host" validate:"required,fqdn,dnsbl_zone"`
	RejectReason string   `koanf:"reject_reason" validate:"required"`
	Types        []string `koanf:"types" validate:"omitempty,dive,oneof=ipv4 ipv6"`
	Filters      []string `koanf:"filters"`
}

func validListZone(fl validator.FieldLevel) bool {
	return utils.IsListZone(fl.Field().String())
}

// parseBlacklists reads path into koanf. It can be mocked in tests.
var parseBlacklists = func(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	return k, nil
}

// LoadBlacklists reads and validates the blacklists file. Every problem in
// the file is reported, not just the first.
func LoadBlacklists(path string) ([]domain.Blacklist, error) {
	k, err := parseBlacklists(path)
	if err != nil {
		return nil, fmt.Errorf("error loading blacklists %s: %w", path, err)
	}

	var entries []BlacklistConfig
	if err := k.Unmarshal("blacklists", &entries); err != nil {
		return nil, fmt.Errorf("error unmarshalling blacklists %s: %w", path, err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	var (
		errs error
		out  = make([]domain.Blacklist, 0, len(entries))
		seen = make(map[string]int, len(entries))
	)
	for i, e := range entries {
		b, err := e.toDomain(validate)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("blacklists[%d]: %w", i, err))
			continue
		}
		if first, dup := seen[b.Host]; dup {
			errs = multierr.Append(errs, fmt.Errorf("blacklists[%d]: %w %s (first at %d)", i, ErrDuplicateHost, b.Host, first))
			continue
		}
		seen[b.Host] = i
		out = append(out, b)
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func (e BlacklistConfig) toDomain(validate *validator.Validate) (domain.Blacklist, error) {
	if err := validate.Struct(&e); err != nil {
		return domain.Blacklist{}, err
	}
	filters, err := domain.ParseFilters(e.Filters)
	if err != nil {
		return domain.Blacklist{}, err
	}
	ipv4, ipv6 := true, false
	if len(e.Types) > 0 {
		ipv4 = slices.Contains(e.Types, "ipv4")
		ipv6 = slices.Contains(e.Types, "ipv6")
	}
	return domain.NewBlacklist(e.Host, e.RejectReason, ipv4, ipv6, filters)
}

// WatchBlacklists calls fn with the freshly loaded blacklists whenever path
// changes. A file that fails to load is passed as an error and the previous
// configuration stays in effect.
func WatchBlacklists(path string, fn func([]domain.Blacklist, error)) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(LoadBlacklists(path))
	})
}
