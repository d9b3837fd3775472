package authn

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joho/godotenv"
)

// TransferMode selects the channel(s) tokens travel on.
type TransferMode string

const (
	TransferCookie TransferMode = "cookie"
	TransferBearer TransferMode = "bearer"
	TransferBoth   TransferMode = "both"
)

// UnmarshalText implements encoding.TextUnmarshaler for TransferMode.
func (m *TransferMode) UnmarshalText(text []byte) error {
	v := TransferMode(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case TransferCookie, TransferBearer, TransferBoth:
		*m = v
		return nil
	default:
		return fmt.Errorf("invalid transfer mode: %q (valid options: cookie, bearer, both)", string(text))
	}
}

// UsesCookie reports whether the cookie channel is active
func (m TransferMode) UsesCookie() bool {
	return m == TransferCookie || m == TransferBoth
}

// UsesBearer reports whether the header channel is active
func (m TransferMode) UsesBearer() bool {
	return m == TransferBearer || m == TransferBoth
}

// BasicDefinitions holds the credentials internal-only routes are checked against.
type BasicDefinitions struct {
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	Realm    string `env:"REALM" envDefault:"internal"`
}

// JWTDefinitions holds token signing and lifetime settings.
type JWTDefinitions struct {
	Secret        string        `env:"SECRET"`
	SigningMethod string        `env:"SIGNING_METHOD" envDefault:"HS256"`
	Issuer        string        `env:"ISSUER"`
	Audience      []string      `env:"AUDIENCE" envSeparator:","`
	AccessExpiry  time.Duration `env:"ACCESS_EXPIRY" envDefault:"15m"`
	RefreshExpiry time.Duration `env:"REFRESH_EXPIRY" envDefault:"168h"`
	// AccessLeeway and RefreshLeeway extend the exp check, rounded down to seconds
	AccessLeeway  time.Duration `env:"ACCESS_LEEWAY" envDefault:"0s"`
	RefreshLeeway time.Duration `env:"REFRESH_LEEWAY" envDefault:"0s"`
}

// ImpersonationDefinitions controls the cipher prefixed login bypass.
type ImpersonationDefinitions struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Cipher   string `env:"CIPHER"`
	Password string `env:"PASSWORD"`
}

// CookieDefinitions is the policy applied to token cookies.
type CookieDefinitions struct {
	Domain   string `env:"DOMAIN"`
	Path     string `env:"PATH" envDefault:"/"`
	SameSite string `env:"SAME_SITE" envDefault:"lax"`
	Secure   bool   `env:"SECURE" envDefault:"true"`
	HTTPOnly bool   `env:"HTTP_ONLY" envDefault:"true"`
	Signed   bool   `env:"SIGNED" envDefault:"false"`
	// Secret is a base64 encoded 32 byte key, required when Signed is set
	Secret string `env:"SECRET"`
}

// Definitions is the process wide auth configuration. It is loaded once at
// startup and must not be mutated afterwards.
type Definitions struct {
	Basic         BasicDefinitions         `envPrefix:"BASIC_"`
	JWT           JWTDefinitions           `envPrefix:"JWT_"`
	Impersonation ImpersonationDefinitions `envPrefix:"IMPERSONATION_"`
	Cookie        CookieDefinitions        `envPrefix:"COOKIE_"`

	// HashingKey is mixed into password hashes as a pepper
	HashingKey string `env:"HASHING_KEY"`
	Hasher     string `env:"HASHER" envDefault:"bcrypt"`

	// HashCost is the bcrypt cost, HashIterations the pbkdf2 iteration count
	HashCost       int `env:"HASH_COST" envDefault:"12"`
	HashIterations int `env:"HASH_ITERATIONS" envDefault:"600000"`

	// BasicRequired forces basic credentials to be present, set it when
	// internal-only routes are registered
	BasicRequired bool `env:"BASIC_REQUIRED" envDefault:"false"`

	RedactedFields []string     `env:"REDACTED_FIELDS" envSeparator:"," envDefault:"password"`
	IgnoredRoutes  []string     `env:"IGNORED_ROUTES" envSeparator:","`
	TransferMode   TransferMode `env:"TRANSFER_MODE" envDefault:"cookie"`
	UsernameField  string       `env:"USERNAME_FIELD" envDefault:"username"`
	PasswordField  string       `env:"PASSWORD_FIELD" envDefault:"password"`
}

// LoadOptions controls LoadDefinitions.
type LoadOptions struct {
	// Prefix for every variable, defaults to AUTH_
	Prefix string
	// EnvFiles are loaded with godotenv before parsing, missing files are skipped
	EnvFiles []string
	// Environment overrides the process environment, mostly for tests
	Environment map[string]string
}

// DefaultEnvPrefix is the prefix used when LoadOptions.Prefix is empty
const DefaultEnvPrefix = "AUTH_"

// LoadDefinitions reads definitions from the environment and validates them.
// Any error is a configuration error and should stop the process.
func LoadDefinitions(opts ...LoadOptions) (*Definitions, error) {
	var o LoadOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	if o.Prefix == "" {
		o.Prefix = DefaultEnvPrefix
	}

	for _, file := range o.EnvFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		// godotenv.Load does not override variables already set
		if err := godotenv.Load(file); err != nil {
			return nil, configurationError(fmt.Errorf("load env file %s: %w", file, err))
		}
	}

	defs := &Definitions{}
	parseOpts := env.Options{Prefix: o.Prefix}
	if o.Environment != nil {
		parseOpts.Environment = o.Environment
	}

	if err := env.ParseWithOptions(defs, parseOpts); err != nil {
		return nil, configurationError(err)
	}

	if err := defs.Validate(); err != nil {
		return nil, err
	}

	return defs, nil
}

// Validate checks the invariants of the definitions.
func (d *Definitions) Validate() error {
	err := validation.Errors{
		"jwt":           d.JWT.validate(),
		"impersonation": d.Impersonation.validate(),
		"cookie":        d.Cookie.validate(),
		"basic":         d.Basic.validate(d.BasicRequired),
		"hashing_key":   validation.Validate(d.HashingKey, validation.Required),
		"hasher":        validation.Validate(d.Hasher, validation.In("bcrypt", "pbkdf2")),
		"transfer_mode": validation.Validate(string(d.TransferMode),
			validation.Required,
			validation.In(string(TransferCookie), string(TransferBearer), string(TransferBoth)),
		),
		"username_field":  validation.Validate(d.UsernameField, validation.Required),
		"password_field":  validation.Validate(d.PasswordField, validation.Required),
		"hash_iterations": d.validateIterations(),
	}.Filter()

	if err != nil {
		return configurationError(err)
	}
	return nil
}

func (j JWTDefinitions) validate() error {
	return validation.ValidateStruct(&j,
		validation.Field(&j.Secret, validation.Required),
		validation.Field(&j.SigningMethod, validation.In("HS256", "HS384", "HS512")),
		validation.Field(&j.AccessExpiry, validation.Required, validation.Min(time.Second)),
		validation.Field(&j.RefreshExpiry, validation.Required, validation.Min(time.Second)),
		validation.Field(&j.AccessLeeway, validation.Min(time.Duration(0))),
		validation.Field(&j.RefreshLeeway, validation.Min(time.Duration(0))),
	)
}

func (i ImpersonationDefinitions) validate() error {
	if !i.Enabled {
		return nil
	}
	return validation.ValidateStruct(&i,
		validation.Field(&i.Cipher, validation.Required),
		validation.Field(&i.Password, validation.Required),
	)
}

func (c CookieDefinitions) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SameSite, validation.In("lax", "strict", "none")),
		validation.Field(&c.Secret, requiredWhen(c.Signed, validation.By(validCookieKey))...),
	)
}

func (b BasicDefinitions) validate(required bool) error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Username, requiredWhen(required)...),
		validation.Field(&b.Password, requiredWhen(required || b.Username != "")...),
		validation.Field(&b.Realm, validation.Required),
	)
}

// requiredWhen prepends validation.Required to rules when cond holds
func requiredWhen(cond bool, rules ...validation.Rule) []validation.Rule {
	if !cond {
		return rules
	}
	return append([]validation.Rule{validation.Required}, rules...)
}

func validCookieKey(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("must be base64 encoded")
	}
	if len(key) != 32 {
		return fmt.Errorf("must decode to 32 bytes")
	}
	return nil
}

// BasicEnabled reports whether basic credentials are configured
func (d *Definitions) BasicEnabled() bool {
	return d.Basic.Username != "" && d.Basic.Password != ""
}

// validateIterations rejects weak pbkdf2 counts, zero keeps the hasher default
func (d *Definitions) validateIterations() error {
	if d.Hasher != "pbkdf2" || d.HashIterations == 0 {
		return nil
	}
	return validation.Validate(d.HashIterations, validation.Min(pbkdf2MinIterations))
}

// GetRedactedFields returns a copy of the redacted field names
func (d *Definitions) GetRedactedFields() []string {
	return append([]string(nil), d.RedactedFields...)
}

// GetIgnoredRoutes returns a copy of the ignored route patterns
func (d *Definitions) GetIgnoredRoutes() []string {
	return append([]string(nil), d.IgnoredRoutes...)
}
