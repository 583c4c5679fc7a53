package wordpress

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/wpinstructions/wpinstructions/pkg/bridge"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
	"github.com/wpinstructions/wpinstructions/pkg/runner"
)

// ErrNotMultisite is returned by "add site" outside a network.
var ErrNotMultisite = errors.New("you can only add a site in multisite")

// AddSite creates a site on a multisite network. The new site is named by
// its home url: the first host label on subdomain networks, the path
// otherwise.
//
//	add site where title is Shop and home url is http://localhost/shop
type AddSite struct {
	instruction.Descriptor
	base
}

// NewAddSite creates the "add site" type.
func NewAddSite(deps Deps) *AddSite {
	return &AddSite{
		Descriptor: instruction.Descriptor{
			Name:             ActionAddSite,
			NeedsEnvironment: true,
			DefaultOptions: instruction.Options{
				OptSiteTitle:     "New Site",
				OptSiteURL:       "",
				OptHomeURL:       "",
				OptAdminEmail:    "test@test.com",
				OptAdminUser:     "admin",
				OptAdminPassword: "password",
			},
			SubjectSynonyms: map[string]string{
				"title":      OptSiteTitle,
				"blog title": OptSiteTitle,
				"home":       OptHomeURL,
				"url":        OptHomeURL,
				"site":       OptSiteURL,
				"user":       OptAdminUser,
				"email":      OptAdminEmail,
				"user email": OptAdminEmail,
				"password":   OptAdminPassword,
				"admin pass": OptAdminPassword,
				"pass":       OptAdminPassword,
			},
		},
		base: newBase(deps, ActionAddSite),
	}
}

// Run creates the site and its administrator.
func (t *AddSite) Run(ctx context.Context, opts instruction.Options, args instruction.GlobalArgs) (instruction.Status, error) {
	var site *bridge.Site
	if t.env != nil {
		site = t.env.Site()
	}
	if site == nil || !site.Multisite {
		return instruction.StatusFailure, ErrNotMultisite
	}
	path := t.sitePath(args)

	slug, err := siteSlug(site, opts[OptHomeURL])
	if err != nil {
		return instruction.StatusFailure, err
	}

	login, err := t.ensureUser(ctx, path, opts)
	if err != nil {
		return instruction.StatusFailure, err
	}

	res, err := t.wp(ctx, path, "site", "create",
		"--slug="+slug,
		"--title="+opts[OptSiteTitle],
		"--email="+opts[OptAdminEmail],
		"--porcelain",
	)
	if err != nil {
		return failure("could not add site %q: %w", opts[OptSiteTitle], err)
	}

	// wp-cli only warns when the user already is a super admin
	if _, err := t.wp(ctx, path, "super-admin", "add", login); err != nil {
		return failure("could not add %q as site admin: %w", login, err)
	}

	t.log.Info().
		Str("site_id", res.Output()).
		Str("slug", slug).
		Str("title", opts[OptSiteTitle]).
		Msg("Site added")

	return instruction.StatusSuccess, nil
}

// ensureUser returns the login of the user with the admin email, creating an
// administrator when there is none.
func (t *AddSite) ensureUser(ctx context.Context, path string, opts instruction.Options) (string, error) {
	email := opts[OptAdminEmail]

	res, err := t.wp(ctx, path, "user", "get", email, "--field=user_login")
	if err == nil {
		return res.Output(), nil
	}
	var exit *runner.ExitError
	if !errors.As(err, &exit) {
		return "", err
	}

	login := opts[OptAdminUser]
	if _, err := t.wp(ctx, path, "user", "create", login, email,
		"--role=administrator",
		"--user_pass="+opts[OptAdminPassword],
		"--porcelain",
	); err != nil {
		return "", fmt.Errorf("could not create user %q: %w", login, err)
	}
	t.log.Info().Str("user", login).Msg("User created")
	return login, nil
}

// siteSlug derives the wp-cli slug of a new site from its home url.
func siteSlug(site *bridge.Site, home string) (string, error) {
	if home == "" {
		return "", errors.New("home url is required to add a site")
	}
	raw := home
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid home url %q: %w", home, err)
	}

	var slug string
	if site.Subdomain {
		slug, _, _ = strings.Cut(u.Hostname(), ".")
	} else {
		slug = strings.TrimPrefix(u.Path, site.NetworkPath)
		slug = strings.Trim(slug, "/")
	}

	if slug == "" || strings.Contains(slug, "/") {
		return "", fmt.Errorf("home url %q does not name a site", home)
	}
	return slug, nil
}
