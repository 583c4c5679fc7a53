package wordpress

import (
	"context"

	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

var pluginSubjects = map[string]string{
	"name":         OptPluginName,
	"slug":         OptPluginName,
	"plugin slug":  OptPluginName,
	"plugin":       OptPluginName,
	"plugin title": OptPluginName,
}

// InstallPlugin installs a plugin from wordpress.org, a zip or a git
// repository, and activates it unless told otherwise.
//
//	install plugin where name is jetpack and version is 13.1 and status is network
type InstallPlugin struct {
	instruction.Descriptor
	base
}

// NewInstallPlugin creates the "install plugin" type.
func NewInstallPlugin(deps Deps) *InstallPlugin {
	subjects := map[string]string{
		"version":        OptPluginVersion,
		"status":         OptPluginStatus,
		"url":            OptPluginURL,
		"website":        OptPluginURL,
		"address":        OptPluginURL,
		"plugin website": OptPluginURL,
	}
	for k, v := range pluginSubjects {
		subjects[k] = v
	}

	return &InstallPlugin{
		Descriptor: instruction.Descriptor{
			Name:             ActionInstallPlugin,
			NeedsEnvironment: true,
			DefaultOptions: instruction.Options{
				OptPluginVersion: VersionLatest,
				OptPluginStatus:  StatusActive,
				OptPluginName:    "",
				OptPluginURL:     "",
			},
			SubjectSynonyms: subjects,
			ObjectSynonyms: map[string]map[string]string{
				OptPluginStatus: {
					"network activate": StatusNetworkActive,
					"network":          StatusNetworkActive,
					"activate":         StatusActive,
					"site active":      StatusActive,
					"activated":        StatusActive,
					"enable":           StatusActive,
					"enabled":          StatusActive,
				},
			},
		},
		base: newBase(deps, ActionInstallPlugin),
	}
}

// Run installs the plugin, then activates it when the status asks for it.
func (t *InstallPlugin) Run(ctx context.Context, opts instruction.Options, args instruction.GlobalArgs) (instruction.Status, error) {
	name := opts[OptPluginName]
	if name == "" {
		return failure("plugin name is required")
	}
	path := t.sitePath(args)
	log := t.log.With().Str("plugin", name).Logger()

	if src := opts[OptPluginURL]; src != "" {
		switch sourceOf(src) {
		case sourceZip:
			if _, err := t.wp(ctx, path, "plugin", "install", src, "--force"); err != nil {
				return failure("could not install plugin %q: %w", name, err)
			}
		case sourceGit:
			if err := t.clone(ctx, path, "plugin", name, src); err != nil {
				return failure("could not install plugin %q: %w", name, err)
			}
		default:
			return failure("invalid plugin URL %q, try a zip or git file", src)
		}
	} else {
		cmd := []string{"plugin", "install", name}
		if v := opts[OptPluginVersion]; v != "" && v != VersionLatest {
			cmd = append(cmd, "--version="+v, "--force")
		}
		if _, err := t.wp(ctx, path, cmd...); err != nil {
			return failure("could not install plugin %q: %w", name, err)
		}
	}

	installed, err := t.probe(ctx, path, "plugin", "is-installed", name)
	if err != nil {
		return instruction.StatusFailure, err
	}
	if !installed {
		return failure("could not install plugin %q", name)
	}
	log.Info().Msg("Plugin installed")

	switch opts[OptPluginStatus] {
	case StatusActive:
		if _, err := t.wp(ctx, path, "plugin", "activate", name); err != nil {
			return failure("could not activate plugin %q: %w", name, err)
		}
	case StatusNetworkActive:
		if _, err := t.wp(ctx, path, "plugin", "activate", name, "--network"); err != nil {
			return failure("could not activate plugin %q: %w", name, err)
		}
	default:
		return instruction.StatusSuccess, nil
	}
	log.Info().Str("status", opts[OptPluginStatus]).Msg("Plugin activated")

	return instruction.StatusSuccess, nil
}

// ActivatePlugin activates an installed plugin, network wide when the active
// type is "network". An already active plugin is skipped.
//
//	activate plugin where name is akismet and type is network
type ActivatePlugin struct {
	instruction.Descriptor
	base
}

// NewActivatePlugin creates the "activate plugin" type.
func NewActivatePlugin(deps Deps) *ActivatePlugin {
	subjects := map[string]string{"type": OptActiveType}
	for k, v := range pluginSubjects {
		subjects[k] = v
	}

	return &ActivatePlugin{
		Descriptor: instruction.Descriptor{
			Name:             ActionActivatePlugin,
			NeedsEnvironment: true,
			DefaultOptions: instruction.Options{
				OptActiveType: "",
				OptPluginName: "",
			},
			SubjectSynonyms: subjects,
			ObjectSynonyms: map[string]map[string]string{
				OptActiveType: {
					"network activate": ActiveTypeNetwork,
					"network active":   ActiveTypeNetwork,
				},
			},
		},
		base: newBase(deps, ActionActivatePlugin),
	}
}

// Run activates the plugin.
func (t *ActivatePlugin) Run(ctx context.Context, opts instruction.Options, args instruction.GlobalArgs) (instruction.Status, error) {
	name := opts[OptPluginName]
	if name == "" {
		return failure("plugin name is required")
	}
	path := t.sitePath(args)

	installed, err := t.probe(ctx, path, "plugin", "is-installed", name)
	if err != nil {
		return instruction.StatusFailure, err
	}
	if !installed {
		return failure("plugin %q does not exist", name)
	}

	var scope []string
	if opts[OptActiveType] == ActiveTypeNetwork {
		scope = []string{"--network"}
	}

	active, err := t.probe(ctx, path, append([]string{"plugin", "is-active", name}, scope...)...)
	if err != nil {
		return instruction.StatusFailure, err
	}
	if active {
		t.log.Info().Str("plugin", name).Msg("Plugin already active")
		return instruction.StatusSkipped, nil
	}

	if _, err := t.wp(ctx, path, append([]string{"plugin", "activate", name}, scope...)...); err != nil {
		return failure("could not activate plugin %q: %w", name, err)
	}
	t.log.Info().Str("plugin", name).Bool("network", len(scope) > 0).Msg("Plugin activated")

	return instruction.StatusSuccess, nil
}
