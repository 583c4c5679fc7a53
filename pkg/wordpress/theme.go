package wordpress

import (
	"context"
	"fmt"

	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

var themeSubjects = map[string]string{
	"name":        OptThemeName,
	"slug":        OptThemeName,
	"theme slug":  OptThemeName,
	"theme title": OptThemeName,
	"theme":       OptThemeName,
}

// InstallTheme installs a theme from wordpress.org, a zip or a git
// repository, and enables it unless told otherwise.
//
//	install theme where name is twentytwentyfour and status is disabled
type InstallTheme struct {
	instruction.Descriptor
	base
}

// NewInstallTheme creates the "install theme" type.
func NewInstallTheme(deps Deps) *InstallTheme {
	subjects := map[string]string{
		"version": OptThemeVersion,
		"status":  OptThemeStatus,
		"url":     OptThemeURL,
	}
	for k, v := range themeSubjects {
		subjects[k] = v
	}

	return &InstallTheme{
		Descriptor: instruction.Descriptor{
			Name:             ActionInstallTheme,
			NeedsEnvironment: true,
			DefaultOptions: instruction.Options{
				OptThemeVersion: VersionLatest,
				OptThemeStatus:  StatusEnabled,
				OptThemeURL:     "",
				OptThemeName:    "",
			},
			SubjectSynonyms: subjects,
			ObjectSynonyms: map[string]map[string]string{
				OptThemeStatus: {
					"activate":    StatusEnabled,
					"activated":   StatusEnabled,
					"active":      StatusEnabled,
					"enable":      StatusEnabled,
					"site active": StatusEnabled,
				},
			},
		},
		base: newBase(deps, ActionInstallTheme),
	}
}

// Run installs the theme, then enables it when the status is "enabled".
func (t *InstallTheme) Run(ctx context.Context, opts instruction.Options, args instruction.GlobalArgs) (instruction.Status, error) {
	name := opts[OptThemeName]
	if name == "" {
		return failure("theme name is required")
	}
	path := t.sitePath(args)

	if src := opts[OptThemeURL]; src != "" {
		switch sourceOf(src) {
		case sourceZip:
			if _, err := t.wp(ctx, path, "theme", "install", src, "--force"); err != nil {
				return failure("could not install theme %q: %w", name, err)
			}
		case sourceGit:
			if err := t.clone(ctx, path, "theme", name, src); err != nil {
				return failure("could not install theme %q: %w", name, err)
			}
		default:
			return failure("invalid theme URL %q, try a zip or git file", src)
		}
	} else {
		cmd := []string{"theme", "install", name}
		if v := opts[OptThemeVersion]; v != "" && v != VersionLatest {
			cmd = append(cmd, "--version="+v, "--force")
		}
		if _, err := t.wp(ctx, path, cmd...); err != nil {
			return failure("could not install theme %q: %w", name, err)
		}
	}

	installed, err := t.probe(ctx, path, "theme", "is-installed", name)
	if err != nil {
		return instruction.StatusFailure, err
	}
	if !installed {
		return failure("could not install theme %q", name)
	}
	t.log.Info().Str("theme", name).Msg("Theme installed")

	if opts[OptThemeStatus] != StatusEnabled {
		return instruction.StatusSuccess, nil
	}
	if err := t.enable(ctx, path, name); err != nil {
		return instruction.StatusFailure, err
	}
	return instruction.StatusSuccess, nil
}

// EnableTheme switches the site to an installed theme. On a network the
// theme is network enabled first. An already active theme is skipped.
//
//	enable theme where name is twentytwentyfour
type EnableTheme struct {
	instruction.Descriptor
	base
}

// NewEnableTheme creates the "enable theme" type.
func NewEnableTheme(deps Deps) *EnableTheme {
	return &EnableTheme{
		Descriptor: instruction.Descriptor{
			Name:             ActionEnableTheme,
			NeedsEnvironment: true,
			DefaultOptions:   instruction.Options{OptThemeName: ""},
			SubjectSynonyms:  themeSubjects,
		},
		base: newBase(deps, ActionEnableTheme),
	}
}

// Run enables the theme.
func (t *EnableTheme) Run(ctx context.Context, opts instruction.Options, args instruction.GlobalArgs) (instruction.Status, error) {
	name := opts[OptThemeName]
	if name == "" {
		return failure("theme name is required")
	}
	path := t.sitePath(args)

	installed, err := t.probe(ctx, path, "theme", "is-installed", name)
	if err != nil {
		return instruction.StatusFailure, err
	}
	if !installed {
		return failure("theme %q not installed", name)
	}

	active, err := t.probe(ctx, path, "theme", "is-active", name)
	if err != nil {
		return instruction.StatusFailure, err
	}
	if active {
		t.log.Info().Str("theme", name).Msg("Theme already active")
		return instruction.StatusSkipped, nil
	}

	if err := t.enable(ctx, path, name); err != nil {
		return instruction.StatusFailure, err
	}
	return instruction.StatusSuccess, nil
}

// enable allows the theme on a network, activates it and verifies the switch.
func (b *base) enable(ctx context.Context, path, name string) error {
	if b.multisite() {
		if _, err := b.wp(ctx, path, "theme", "enable", name, "--network"); err != nil {
			return fmt.Errorf("could not enable theme %q on the network: %w", name, err)
		}
	}

	if _, err := b.wp(ctx, path, "theme", "activate", name); err != nil {
		return fmt.Errorf("could not enable theme %q: %w", name, err)
	}

	active, err := b.probe(ctx, path, "theme", "is-active", name)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("could not enable theme %q", name)
	}

	b.log.Info().Str("theme", name).Msg("Theme enabled")
	return nil
}
