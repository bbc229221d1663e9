// Package config loads the service configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/operator-framework/omps/pkg/release"
	"github.com/operator-framework/omps/pkg/transform"
)

// EnvConfigFile names the environment variable holding the config file path.
const EnvConfigFile = "OMPS_CONF_FILE"

const (
	keyLogLevel                   = "log_level"
	keyListenAddress              = "listen_address"
	keyRequestTimeout             = "request_timeout"
	keyZipfileMaxUncompressedSize = "zipfile_max_uncompressed_size"
	keyMaxContentLength           = "max_content_length"
	keyDefaultReleaseVersion      = "default_release_version"
	keyQuayURL                    = "quay_url"
	keyKojiHubURL                 = "kojihub_url"
	keyKojiRootURL                = "kojiroot_url"
	keyGreenwave                  = "greenwave"
)

var logLevels = map[string]logrus.Level{
	"debug":    logrus.DebugLevel,
	"info":     logrus.InfoLevel,
	"warning":  logrus.WarnLevel,
	"error":    logrus.ErrorLevel,
	"critical": logrus.FatalLevel,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyListenAddress, ":8080")
	v.SetDefault(keyRequestTimeout, "30s")
	v.SetDefault(keyZipfileMaxUncompressedSize, 20*1024*1024)
	v.SetDefault(keyMaxContentLength, 2*1024*1024)
	v.SetDefault(keyDefaultReleaseVersion, "1.0.0")
	v.SetDefault(keyQuayURL, "https://quay.io")
	v.SetDefault(keyKojiHubURL, "https://koji.fedoraproject.org/kojihub")
	v.SetDefault(keyKojiRootURL, "https://kojipkgs.fedoraproject.org/")
}

// Greenwave configures the policy gate. Every field is required.
type Greenwave struct {
	URL            string `mapstructure:"url"`
	Context        string `mapstructure:"context"`
	ProductVersion string `mapstructure:"product_version"`
}

// Organization holds per-organization publishing settings.
type Organization struct {
	Public            bool                    `json:"public"`
	OAuthToken        string                  `json:"oauth_token"`
	ReplaceRegistry   []transform.RewriteRule `json:"replace_registry"`
	PackageNameSuffix string                  `json:"package_name_suffix"`
	GreenwaveContext  string                  `json:"greenwave_context"`
}

func (o Organization) clone() Organization {
	if o.ReplaceRegistry != nil {
		rules := make([]transform.RewriteRule, len(o.ReplaceRegistry))
		copy(rules, o.ReplaceRegistry)
		o.ReplaceRegistry = rules
	}
	return o
}

// Config is the loaded configuration. It is not modified after Load.
type Config struct {
	LogLevel                   string
	ListenAddress              string
	RequestTimeout             time.Duration
	ZipfileMaxUncompressedSize int64
	MaxContentLength           int64
	DefaultReleaseVersion      release.Version
	QuayURL                    string
	KojiHubURL                 string
	KojiRootURL                string

	// Greenwave is nil when no policy gate is configured.
	Greenwave *Greenwave

	organizations map[string]Organization
}

// Organization returns a copy of the settings for name. Unknown
// organizations get the zero value: private, no rewrites, no suffix.
func (c *Config) Organization(name string) Organization {
	return c.organizations[name].clone()
}

// Organizations returns the configured organization names, sorted.
func (c *Config) Organizations() []string {
	names := make([]string, 0, len(c.organizations))
	for name := range c.organizations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Level returns the logrus level for LogLevel.
func (c *Config) Level() logrus.Level {
	return logLevels[c.LogLevel]
}

// Load reads the YAML file at path, applying defaults and OMPS_ prefixed
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("unable to read config file: %v", err)
		}
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OMPS")
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("unable to parse config: %v", err)
	}

	var errs *multierror.Error
	cfg := &Config{
		LogLevel:      strings.ToLower(v.GetString(keyLogLevel)),
		ListenAddress: v.GetString(keyListenAddress),
		QuayURL:       strings.TrimSuffix(v.GetString(keyQuayURL), "/"),
		KojiHubURL:    v.GetString(keyKojiHubURL),
		KojiRootURL:   v.GetString(keyKojiRootURL),
	}

	if _, ok := logLevels[cfg.LogLevel]; !ok {
		errs = multierror.Append(errs, fmt.Errorf("%s: unknown level %q", keyLogLevel, cfg.LogLevel))
	}

	timeout, err := seconds(v.Get(keyRequestTimeout))
	if err != nil || timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s: must be a positive duration", keyRequestTimeout))
	}
	cfg.RequestTimeout = timeout

	for key, dst := range map[string]*int64{
		keyZipfileMaxUncompressedSize: &cfg.ZipfileMaxUncompressedSize,
		keyMaxContentLength:           &cfg.MaxContentLength,
	} {
		n, err := cast.ToInt64E(v.Get(key))
		if err != nil || n <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: must be a positive integer", key))
		}
		*dst = n
	}

	def, err := release.Parse(v.GetString(keyDefaultReleaseVersion))
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %v", keyDefaultReleaseVersion, err))
	}
	cfg.DefaultReleaseVersion = def

	if cfg.KojiRootURL != "" && !strings.HasSuffix(cfg.KojiRootURL, "/") {
		cfg.KojiRootURL += "/"
	}

	if v.IsSet(keyGreenwave) {
		gw := &Greenwave{}
		if err := v.UnmarshalKey(keyGreenwave, gw); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %v", keyGreenwave, err))
		} else if gw.URL == "" || gw.Context == "" || gw.ProductVersion == "" {
			errs = multierror.Append(errs, fmt.Errorf("%s: url, context and product_version are required", keyGreenwave))
		} else {
			if !strings.HasSuffix(gw.URL, "/") {
				gw.URL += "/"
			}
			cfg.Greenwave = gw
		}
	}

	orgs, err := parseOrganizations(data)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	cfg.organizations = orgs

	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

// seconds accepts either a duration string or a number of seconds.
func seconds(value interface{}) (time.Duration, error) {
	switch value.(type) {
	case int, int64, float64, uint64:
		n, err := cast.ToFloat64E(value)
		return time.Duration(n * float64(time.Second)), err
	}
	return cast.ToDurationE(value)
}

// Organizations are decoded from the raw document rather than through viper,
// which folds map keys to lower case.
func parseOrganizations(data []byte) (map[string]Organization, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Organizations json.RawMessage `json:"organizations"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Organizations) == 0 || string(doc.Organizations) == "null" {
		return map[string]Organization{}, nil
	}

	if err := validateOrganizations(doc.Organizations); err != nil {
		return nil, err
	}

	orgs := map[string]Organization{}
	if err := json.Unmarshal(doc.Organizations, &orgs); err != nil {
		return nil, fmt.Errorf("organizations: %v", err)
	}
	for name, org := range orgs {
		if err := transform.Compile(org.ReplaceRegistry); err != nil {
			return nil, fmt.Errorf("organizations/%s: %v", name, err)
		}
	}
	return orgs, nil
}
