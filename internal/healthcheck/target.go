package healthcheck

import (
	"net"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// DefaultPath is the endpoint checked when no path is configured.
const DefaultPath = "/health"

// Target is the host/port/path a single check is issued against.
type Target struct {
	Host string
	Port int
	Path string
}

// URL returns http://{host}:{port}{path}. IPv6 hosts are bracketed.
func (t Target) URL() string {
	return "http://" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port)) + t.Path
}

func (t Target) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Host, validation.Required, is.Host),
		validation.Field(&t.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&t.Path,
			validation.Required,
			validation.By(func(value interface{}) error {
				if path, _ := value.(string); !strings.HasPrefix(path, "/") {
					return validation.NewError("validation_invalid_path", "must start with /")
				}
				return nil
			}),
		),
	)
}

// Option overrides one field of the configured default target for a single check.
type Option func(*Target)

func WithHost(host string) Option {
	return func(t *Target) { t.Host = host }
}

func WithPort(port int) Option {
	return func(t *Target) { t.Port = port }
}

func WithPath(path string) Option {
	return func(t *Target) { t.Path = path }
}
