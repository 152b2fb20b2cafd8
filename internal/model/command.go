package model

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 10 * time.Second
	// MaxTimeout bounds a command's timeout so a call always finishes inside
	// the daemon's IPC exchange deadline.
	MaxTimeout = 5 * time.Minute
	DefaultMethod    = "POST"
	DefaultVerifyTLS = true

	// ReloadServiceName is reserved for the reload service and cannot name a command.
	ReloadServiceName = "reload"
)

// SupportedMethods lists the HTTP verbs a command may use.
var SupportedMethods = []string{"GET", "PATCH", "POST", "PUT", "DELETE"}

var slugRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

// Credentials holds HTTP basic auth credentials.
type Credentials struct {
	Username string
	Password string
}

// Command is a validated, immutable command definition.
type Command struct {
	Name        string
	URLTemplate string
	Method      string
	Headers     map[string]string
	Credentials *Credentials
	Timeout     time.Duration
	ContentType string
	VerifyTLS   bool
}

// Description is the human readable service description published for the command.
func (c Command) Description() string {
	return fmt.Sprintf("Sends a file to the RESTful API endpoint via a %s request.", c.Method)
}

// NewCommand validates cc and applies defaults.
func NewCommand(name string, cc CommandConfig) (Command, error) {
	var errs ValidationErrors
	cmd := buildCommand(name, cc, &errs)
	if errs.HasErrors() {
		return Command{}, &errs
	}
	return cmd, nil
}

// BuildCommands validates every configured command. All field errors are collected
// before returning.
func (c Config) BuildCommands() (map[string]Command, error) {
	var errs ValidationErrors
	out := make(map[string]Command, len(c.Commands))
	for _, name := range sortedKeys(c.Commands) {
		out[name] = buildCommand(name, c.Commands[name], &errs)
	}
	if errs.HasErrors() {
		return nil, &errs
	}
	return out, nil
}

func buildCommand(name string, cc CommandConfig, errs *ValidationErrors) Command {
	prefix := "rest_file_command." + name

	if !slugRegex.MatchString(name) {
		errs.Add(prefix, "command name must match [a-z0-9_]+")
	}
	if name == ReloadServiceName {
		errs.Add(prefix, "command name is reserved")
	}
	if strings.TrimSpace(cc.URL) == "" {
		errs.Add(prefix+".url", "required")
	}

	method := DefaultMethod
	if cc.Method != "" {
		method = strings.ToUpper(cc.Method)
		if !isSupportedMethod(method) {
			errs.Add(prefix+".method", fmt.Sprintf("unsupported method %q, must be one of %s",
				cc.Method, strings.ToLower(strings.Join(SupportedMethods, "|"))))
		}
	}

	timeout := DefaultTimeout
	if cc.Timeout != nil {
		secs := *cc.Timeout
		switch {
		case math.IsNaN(secs) || secs <= 0:
			errs.Add(prefix+".timeout", "must be > 0")
		case secs > MaxTimeout.Seconds():
			errs.Add(prefix+".timeout", fmt.Sprintf("must be at most %d seconds", int(MaxTimeout.Seconds())))
		default:
			timeout = time.Duration(secs * float64(time.Second))
			if timeout <= 0 {
				errs.Add(prefix+".timeout", "must be > 0")
			}
		}
	}

	var creds *Credentials
	switch {
	case cc.Username != "" && cc.Password != nil:
		creds = &Credentials{Username: cc.Username, Password: *cc.Password}
	case cc.Username != "":
		errs.Add(prefix+".password", "required when username is set")
	case cc.Password != nil:
		errs.Add(prefix+".username", "required when password is set")
	}

	verify := DefaultVerifyTLS
	if cc.VerifySSL != nil {
		verify = *cc.VerifySSL
	}

	headers := make(map[string]string, len(cc.Headers))
	for k, v := range cc.Headers {
		if strings.TrimSpace(k) == "" {
			errs.Add(prefix+".headers", "header name must not be empty")
			continue
		}
		headers[k] = v
	}

	return Command{
		Name:        name,
		URLTemplate: cc.URL,
		Method:      method,
		Headers:     headers,
		Credentials: creds,
		Timeout:     timeout,
		ContentType: cc.ContentType,
		VerifyTLS:   verify,
	}
}

func isSupportedMethod(m string) bool {
	for _, s := range SupportedMethods {
		if s == m {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
