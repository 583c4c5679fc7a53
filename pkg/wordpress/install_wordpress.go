package wordpress

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/wpinstructions/wpinstructions/pkg/bridge"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

// ErrConfigIncomplete is returned when a new wp-config.php would lack
// database credentials.
var ErrConfigIncomplete = errors.New("database host, user, name, and password are required when installing WordPress with a new wp-config.php file")

// InstallWordPress downloads, configures and installs WordPress core.
//
//	install wordpress where version is 6.4 and install type is multisite
type InstallWordPress struct {
	instruction.Descriptor
	base
}

// NewInstallWordPress creates the "install wordpress" type.
func NewInstallWordPress(deps Deps) *InstallWordPress {
	return &InstallWordPress{
		Descriptor: instruction.Descriptor{
			Name: ActionInstallWordPress,
			DefaultOptions: instruction.Options{
				OptVersion:       VersionLatest,
				OptSiteTitle:     "Test Site",
				OptSiteURL:       "",
				OptHomeURL:       "",
				OptAdminEmail:    "test@test.com",
				OptAdminUser:     "admin",
				OptAdminPassword: "password",
				OptInstallType:   InstallSingleSite,
				OptPath:          "",
			},
			SubjectSynonyms: map[string]string{
				"wp version":        OptVersion,
				"wordpress version": OptVersion,
				"user":              OptAdminUser,
				"email":             OptAdminEmail,
				"user email":        OptAdminEmail,
				"password":          OptAdminPassword,
				"pass":              OptAdminPassword,
				"admin pass":        OptAdminPassword,
				"title":             OptSiteTitle,
				"blog title":        OptSiteTitle,
				"home":              OptHomeURL,
				"url":               OptHomeURL,
				"site":              OptSiteURL,
				"type":              OptInstallType,
			},
			ObjectSynonyms: map[string]map[string]string{
				OptInstallType: {
					"multi site": InstallMultisite,
					"multi-site": InstallMultisite,
					"network":    InstallMultisite,
				},
			},
		},
		base: newBase(deps, ActionInstallWordPress),
	}
}

// Run installs WordPress at the --path argument, or at the path option
// resolved against it.
func (t *InstallWordPress) Run(ctx context.Context, opts instruction.Options, args instruction.GlobalArgs) (instruction.Status, error) {
	siteURL, homeURL := installURLs(opts, args)
	multisite := opts[OptInstallType] == InstallMultisite

	path, err := installPath(opts, args)
	if err != nil {
		return instruction.StatusFailure, err
	}
	log := t.log.With().Str("path", path).Logger()

	if err := t.download(ctx, log, path, opts[OptVersion]); err != nil {
		return instruction.StatusFailure, err
	}

	configFile, err := writeConfig(log, path, args)
	if err != nil {
		return instruction.StatusFailure, err
	}

	installed, err := t.installed(ctx, path, args)
	if err != nil {
		return failure("failed to connect to the WordPress database: %w", err)
	}

	if installed {
		log.Info().Msg("WordPress already installed")
	} else {
		if err := t.install(ctx, path, siteURL, opts); err != nil {
			return instruction.StatusFailure, err
		}
		log.Info().Str("version", opts[OptVersion]).Msg("WordPress installed")

		if multisite {
			if err := t.createNetwork(ctx, path, configFile, siteURL, opts); err != nil {
				return instruction.StatusFailure, err
			}
			log.Info().Msg("Network created")
		}
	}

	if err := t.env.Load(ctx, path, args.EnvironmentOverrides()); err != nil {
		return failure("failed to load WordPress: %w", err)
	}

	if multisite {
		if err := t.addSuperAdmin(ctx, path, opts[OptAdminEmail]); err != nil {
			return instruction.StatusFailure, err
		}
	}

	for _, option := range []struct{ name, value string }{
		{"siteurl", siteURL},
		{"home", homeURL},
	} {
		if _, err := t.wp(ctx, path, "option", "update", option.name, option.value); err != nil {
			return failure("failed to update %s: %w", option.name, err)
		}
	}

	return instruction.StatusSuccess, nil
}

// installURLs fills a missing site or home url from the other one, falling
// back to DefaultURL. The --site-url and --home-url arguments win.
func installURLs(opts instruction.Options, args instruction.GlobalArgs) (siteURL, homeURL string) {
	siteURL, homeURL = opts[OptSiteURL], opts[OptHomeURL]

	switch {
	case siteURL == "" && homeURL == "":
		siteURL, homeURL = DefaultURL, DefaultURL
	case homeURL == "":
		homeURL = siteURL
	case siteURL == "":
		siteURL = homeURL
	}

	if args.SiteURL != "" {
		siteURL = args.SiteURL
	}
	if args.HomeURL != "" {
		homeURL = args.HomeURL
	}
	return siteURL, homeURL
}

func installPath(opts instruction.Options, args instruction.GlobalArgs) (string, error) {
	path := args.Path
	if p := opts[OptPath]; p != "" {
		if filepath.IsAbs(p) {
			path = p
		} else {
			path = filepath.Join(args.Path, p)
		}
	}
	return bridge.NormalizePath(path)
}

// download fetches core files. An existing install keeps its wp-content.
func (t *InstallWordPress) download(ctx context.Context, log zerolog.Logger, path, version string) error {
	if version == "" {
		version = VersionLatest
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	cmd := []string{"core", "download", "--version=" + version, "--force"}
	if bridge.IsPresent(path) {
		log.Info().Msg("WordPress already exists, replacing core files")
		cmd = append(cmd, "--skip-content")
	}

	log.Info().Str("version", version).Msg("Downloading WordPress")
	if _, err := t.wp(ctx, path, cmd...); err != nil {
		return fmt.Errorf("failed to download WordPress: %w", err)
	}
	log.Info().Msg("WordPress downloaded")
	return nil
}

// writeConfig updates the existing wp-config.php with the --config-db-*
// arguments, or creates one from the sample, which needs all four values.
func writeConfig(log zerolog.Logger, path string, args instruction.GlobalArgs) (string, error) {
	if file, ok := bridge.LocateConfig(path); ok {
		constants := args.ConfigConstants()
		if args.ConfigDBHost == "" {
			delete(constants, "DB_HOST")
		}
		if len(constants) > 0 {
			if err := bridge.WriteConstants(file, constants); err != nil {
				return "", err
			}
		}
		log.Info().Str("file", file).Msg("wp-config.php updated")
		return file, nil
	}

	constants := args.ConfigConstants()
	for _, name := range []string{"DB_HOST", "DB_NAME", "DB_USER", "DB_PASSWORD"} {
		if constants[name] == "" {
			return "", ErrConfigIncomplete
		}
	}

	file := filepath.Join(path, bridge.ConfigFile)
	if err := bridge.CreateFromSample(file, filepath.Join(path, bridge.SampleFile), constants); err != nil {
		return "", err
	}
	log.Info().Str("file", file).Msg("wp-config.php created")
	return file, nil
}

// installed reports whether the configured database already holds WordPress.
func (t *InstallWordPress) installed(ctx context.Context, path string, args instruction.GlobalArgs) (bool, error) {
	err := t.env.Check(ctx, path, args.EnvironmentOverrides())
	switch bridge.StatusOf(err) {
	case bridge.StatusOK:
		return true, nil
	case bridge.StatusNotInstalled:
		return false, nil
	default:
		return false, err
	}
}

func (t *InstallWordPress) install(ctx context.Context, path, siteURL string, opts instruction.Options) error {
	_, err := t.wp(ctx, path, "core", "install",
		"--url="+siteURL,
		"--title="+opts[OptSiteTitle],
		"--admin_user="+opts[OptAdminUser],
		"--admin_email="+opts[OptAdminEmail],
		"--admin_password="+opts[OptAdminPassword],
		"--skip-email",
	)
	if err != nil {
		return fmt.Errorf("failed to install WordPress: %w", err)
	}
	return nil
}

// createNetwork turns a fresh install into a path-based network and writes
// the multisite constants.
func (t *InstallWordPress) createNetwork(ctx context.Context, path, configFile, siteURL string, opts instruction.Options) error {
	t.log.Info().Msg("Setting up multisite")

	if _, err := t.wp(ctx, path, "core", "multisite-convert", "--title="+opts[OptSiteTitle], "--base=/", "--skip-config"); err != nil {
		return fmt.Errorf("failed to create network: %w", err)
	}

	if err := bridge.WriteConstants(configFile, multisiteConstants(siteURL)); err != nil {
		return fmt.Errorf("failed to create network: %w", err)
	}
	return nil
}

func multisiteConstants(siteURL string) map[string]string {
	domain := "localhost"
	if u, err := url.Parse(siteURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	return map[string]string{
		"WP_ALLOW_MULTISITE":   "true",
		"MULTISITE":            "true",
		"SUBDOMAIN_INSTALL":    "false",
		"DOMAIN_CURRENT_SITE":  domain,
		"PATH_CURRENT_SITE":    "/",
		"SITE_ID_CURRENT_SITE": "1",
		"BLOG_ID_CURRENT_SITE": "1",
	}
}

// addSuperAdmin grants network admin to the user with email, if it exists.
func (t *InstallWordPress) addSuperAdmin(ctx context.Context, path, email string) error {
	res, err := t.wp(ctx, path, "user", "get", email, "--field=user_login")
	if err != nil {
		t.log.Debug().Str("email", email).Msg("No user to make super admin")
		return nil
	}
	if _, err := t.wp(ctx, path, "super-admin", "add", res.Output()); err != nil {
		return fmt.Errorf("failed to add super admin: %w", err)
	}
	return nil
}
