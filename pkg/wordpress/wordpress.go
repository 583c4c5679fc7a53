// Package wordpress provides the instruction types that install and
// configure WordPress: install wordpress, install plugin, install theme,
// activate plugin, enable theme and add site.
//
// Every type drives wp-cli through a runner.Runner and reads the loaded
// install through an Environment, normally a *bridge.WordPress.
package wordpress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wpinstructions/wpinstructions/pkg/bridge"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
	"github.com/wpinstructions/wpinstructions/pkg/runner"
)

// Actions.
const (
	ActionInstallWordPress = "install wordpress"
	ActionInstallPlugin    = "install plugin"
	ActionInstallTheme     = "install theme"
	ActionActivatePlugin   = "activate plugin"
	ActionEnableTheme      = "enable theme"
	ActionAddSite          = "add site"
)

// Canonical option names.
const (
	OptVersion       = "version"
	OptSiteTitle     = "site title"
	OptSiteURL       = "site url"
	OptHomeURL       = "home url"
	OptAdminEmail    = "admin email"
	OptAdminUser     = "admin user"
	OptAdminPassword = "admin password"
	OptInstallType   = "install type"
	OptPath          = "path"

	OptPluginName    = "plugin name"
	OptPluginVersion = "plugin version"
	OptPluginStatus  = "plugin status"
	OptPluginURL     = "plugin url"
	OptActiveType    = "active type"

	OptThemeName    = "theme name"
	OptThemeVersion = "theme version"
	OptThemeStatus  = "theme status"
	OptThemeURL     = "theme url"
)

// Canonical option values.
const (
	InstallSingleSite = "single site"
	InstallMultisite  = "multisite"

	StatusActive        = "active"
	StatusNetworkActive = "network active"
	StatusEnabled       = "enabled"

	ActiveTypeNetwork = "network"

	// VersionLatest installs the newest release.
	VersionLatest = "latest"

	// DefaultURL is used when neither site url nor home url is given.
	DefaultURL = "http://localhost"
)

// Environment is the loaded WordPress install seen by the types.
// *bridge.WordPress implements it.
type Environment interface {
	// Site returns the loaded site, or nil before Load succeeded.
	Site() *bridge.Site

	// Check connects without loading and returns a *bridge.LoadError on failure.
	Check(ctx context.Context, path string, overrides map[string]string) error

	// Load bootstraps the install once.
	Load(ctx context.Context, path string, overrides map[string]string) error
}

// Deps are the collaborators shared by every type.
type Deps struct {
	Runner runner.Runner
	Env    Environment
	Logger zerolog.Logger
}

// RegisterAll registers the six WordPress types.
func RegisterAll(reg *instruction.Registry, deps Deps) {
	reg.Register(NewInstallWordPress(deps))
	reg.Register(NewInstallPlugin(deps))
	reg.Register(NewInstallTheme(deps))
	reg.Register(NewActivatePlugin(deps))
	reg.Register(NewEnableTheme(deps))
	reg.Register(NewAddSite(deps))
}

// base carries the collaborators and the wp-cli helpers.
type base struct {
	runner runner.Runner
	env    Environment
	log    zerolog.Logger
}

func newBase(deps Deps, action string) base {
	return base{
		runner: deps.Runner,
		env:    deps.Env,
		log:    deps.Logger.With().Str("component", "wordpress").Str("action", action).Logger(),
	}
}

// sitePath is the install the type works on: the loaded site when there is
// one, the --path argument otherwise.
func (b *base) sitePath(args instruction.GlobalArgs) string {
	if b.env != nil {
		if site := b.env.Site(); site != nil && site.Path != "" {
			return site.Path
		}
	}
	return args.Path
}

func (b *base) multisite() bool {
	if b.env == nil {
		return false
	}
	site := b.env.Site()
	return site != nil && site.Multisite
}

func (b *base) wp(ctx context.Context, path string, args ...string) (*runner.Result, error) {
	return b.runner.WP(ctx, path, args...)
}

// probe runs a wp-cli yes/no command. A non-zero exit is a "no"; only a
// command that could not run is an error.
func (b *base) probe(ctx context.Context, path string, args ...string) (bool, error) {
	_, err := b.runner.WP(ctx, path, args...)
	if err == nil {
		return true, nil
	}
	var exit *runner.ExitError
	if errors.As(err, &exit) {
		return false, nil
	}
	return false, err
}

var slugRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// packageSource classifies a plugin or theme URL.
type packageSource int

const (
	sourceInvalid packageSource = iota
	sourceZip
	sourceGit
)

func sourceOf(url string) packageSource {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return sourceZip
	case strings.HasSuffix(lower, ".git"):
		return sourceGit
	default:
		return sourceInvalid
	}
}

// clone replaces the package directory named slug under the plugin or theme
// root with a fresh clone of url. kind is "plugin" or "theme".
func (b *base) clone(ctx context.Context, path, kind, slug, url string) error {
	if !slugRe.MatchString(slug) {
		return fmt.Errorf("invalid %s name %q for a git install", kind, slug)
	}

	res, err := b.wp(ctx, path, kind, "path")
	if err != nil {
		return fmt.Errorf("failed to locate %s directory: %w", kind, err)
	}
	root := res.Output()
	if root == "" {
		return fmt.Errorf("wp-cli returned no %s directory", kind)
	}
	if filepath.Ext(root) == ".php" {
		root = filepath.Dir(root)
	}

	if _, err := b.runner.Exec(ctx, root, "rm", "-rf", slug); err != nil {
		return fmt.Errorf("failed to remove old %s: %w", kind, err)
	}
	b.log.Debug().Str("dir", filepath.Join(root, slug)).Msg("Removed old version")

	if _, err := b.runner.Exec(ctx, root, "git", "clone", url, slug); err != nil {
		return fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return nil
}

func failure(format string, a ...interface{}) (instruction.Status, error) {
	return instruction.StatusFailure, fmt.Errorf(format, a...)
}
