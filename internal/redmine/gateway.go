package redmine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mail-issue-link/internal/cache"
	"github.com/nhle/mail-issue-link/internal/credential"
	"github.com/nhle/mail-issue-link/internal/model"
)

// cacheKeyPrefix namespaces every tracker cache entry so a global recache
// can wipe them without touching unrelated cache users.
const cacheKeyPrefix = "redmine/"

// requestLimit is the page size requested from list endpoints. The server
// may clamp it; the fetch-all loop always advances by the limit the server
// actually reports.
const requestLimit = 100

// Gateway mediates all reads and writes against one tracker account.
// Reads are memoized through the shared cache. A remote read failure
// degrades to an empty value so UI flows stay usable; an unconfigured
// account is the exception and is reported as an error, since no
// sensible fallback exists. Writes bypass the cache entirely and
// propagate errors.
type Gateway struct {
	client *Client
	cache  *cache.Cache
	ttl    time.Duration
	log    zerolog.Logger

	accountID string

	mu  sync.Mutex
	cfg model.AccountConfig
}

// NewGateway creates a Gateway for the given account. The API key is
// passed separately because it lives in the keyring, not in the config.
func NewGateway(
	cfg model.AccountConfig,
	apiKey string,
	kv *cache.Cache,
	ttl time.Duration,
	log zerolog.Logger,
) *Gateway {
	return &Gateway{
		client:    NewClient(cfg.URL, apiKey, cfg.ID),
		cache:     kv,
		ttl:       ttl,
		log:       log.With().Str("account_id", cfg.ID).Logger(),
		accountID: cfg.ID,
		cfg:       cfg,
	}
}

// NewGatewayForAccount resolves the account's API key from the keyring
// via its key reference and builds a Gateway with it.
func NewGatewayForAccount(
	cfg model.AccountConfig,
	keys *credential.Keys,
	kv *cache.Cache,
	ttl time.Duration,
	log zerolog.Logger,
) (*Gateway, error) {
	apiKey, err := keys.APIKey(cfg.APIKeyRef)
	if err != nil {
		return nil, fmt.Errorf("resolving API key for account %s: %w", cfg.ID, err)
	}
	return NewGateway(cfg, apiKey, kv, ttl, log), nil
}

// UpdateConfig replaces the account configuration used for visibility
// filtering. Filtering is re-derived per call from the current config, so
// the change takes effect immediately without invalidating the cache.
func (g *Gateway) UpdateConfig(cfg model.AccountConfig) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// Recache invalidates every cache entry belonging to this account. Safe
// to call with reads in flight: those still complete and populate their
// keys, which simply expire on their own schedule.
func (g *Gateway) Recache() int {
	prefix := cacheKeyPrefix + g.accountID + "/"
	return g.cache.RemoveAll(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// RecacheAll invalidates every tracker cache entry across all accounts.
func RecacheAll(kv *cache.Cache) int {
	return kv.RemoveAll(func(key string) bool {
		return strings.HasPrefix(key, cacheKeyPrefix)
	})
}

// key builds a deterministic cache key from the account id, the operation
// name, and every parameter that affects the result.
func (g *Gateway) key(op string, params ...string) string {
	parts := append([]string{cacheKeyPrefix + g.accountID, op}, params...)
	return strings.Join(parts, "/")
}

// config returns a snapshot of the current account configuration.
func (g *Gateway) config() model.AccountConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// readErr splits a read failure: ErrNotConfigured surfaces to the caller,
// anything else is logged and absorbed so the read degrades to its empty
// value.
func (g *Gateway) readErr(err error, event *zerolog.Event, msg string) error {
	if errors.Is(err, ErrNotConfigured) {
		return err
	}
	event.Err(err).Msg(msg)
	return nil
}

// === Reads (cached; remote failures degrade to empty values) ===

// Issue retrieves a single issue by id. A remote failure degrades to a
// zero Issue; the error is non-nil only when the account is not
// configured.
func (g *Gateway) Issue(ctx context.Context, id int) (Issue, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("issue", strconv.Itoa(id)), g.ttl,
		func(ctx context.Context) (any, error) {
			var env issueEnvelope
			err := g.client.Get(
				ctx, fmt.Sprintf("/issues/%d.json", id), nil, &env,
			)
			if err != nil {
				return nil, err
			}
			return env.Issue, nil
		},
	)
	if err != nil {
		return Issue{}, g.readErr(err, g.log.Warn().Int("issue_id", id), "issue read failed")
	}
	return value.(Issue), nil
}

// IssuesByProject retrieves every issue of a project, following the
// offset/limit pagination protocol until all pages are accumulated.
// A remote failure degrades to nil.
func (g *Gateway) IssuesByProject(ctx context.Context, projectID string) ([]Issue, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("project-issues", projectID), g.ttl,
		func(ctx context.Context) (any, error) {
			path := fmt.Sprintf("/projects/%s/issues.json", url.PathEscape(projectID))
			return fetchAll(ctx, func(
				ctx context.Context, offset int,
			) ([]Issue, int, int, error) {
				var page issuesPage
				if err := g.client.Get(ctx, path, pageParams(offset), &page); err != nil {
					return nil, 0, 0, err
				}
				return page.Issues, page.TotalCount, page.Limit, nil
			})
		},
	)
	if err != nil {
		return nil, g.readErr(err, g.log.Warn().Str("project", projectID), "issue list read failed")
	}
	return value.([]Issue), nil
}

// Project retrieves a single project by id or identifier. A remote
// failure degrades to a zero Project.
func (g *Gateway) Project(ctx context.Context, projectID string) (Project, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("project", projectID), g.ttl,
		func(ctx context.Context) (any, error) {
			var env projectEnvelope
			path := fmt.Sprintf("/projects/%s.json", url.PathEscape(projectID))
			if err := g.client.Get(ctx, path, nil, &env); err != nil {
				return nil, err
			}
			return env.Project, nil
		},
	)
	if err != nil {
		return Project{}, g.readErr(err, g.log.Warn().Str("project", projectID), "project read failed")
	}
	return value.(Project), nil
}

// Projects retrieves all projects visible to the account's API key and
// applies the configured visibility filter. The cache always stores the
// complete unfiltered list; filtering happens per call. A remote failure
// degrades to nil.
func (g *Gateway) Projects(ctx context.Context) ([]Project, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("projects"), g.ttl,
		func(ctx context.Context) (any, error) {
			return fetchAll(ctx, func(
				ctx context.Context, offset int,
			) ([]Project, int, int, error) {
				var page projectsPage
				err := g.client.Get(ctx, "/projects.json", pageParams(offset), &page)
				if err != nil {
					return nil, 0, 0, err
				}
				return page.Projects, page.TotalCount, page.Limit, nil
			})
		},
	)
	if err != nil {
		return nil, g.readErr(err, g.log.Warn(), "project list read failed")
	}
	return g.filterProjects(value.([]Project)), nil
}

// Memberships retrieves every membership of a project. A remote failure
// degrades to nil.
func (g *Gateway) Memberships(ctx context.Context, projectID string) ([]Membership, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("memberships", projectID), g.ttl,
		func(ctx context.Context) (any, error) {
			path := fmt.Sprintf(
				"/projects/%s/memberships.json", url.PathEscape(projectID),
			)
			return fetchAll(ctx, func(
				ctx context.Context, offset int,
			) ([]Membership, int, int, error) {
				var page membershipsPage
				if err := g.client.Get(ctx, path, pageParams(offset), &page); err != nil {
					return nil, 0, 0, err
				}
				return page.Memberships, page.TotalCount, page.Limit, nil
			})
		},
	)
	if err != nil {
		return nil, g.readErr(err, g.log.Warn().Str("project", projectID), "membership read failed")
	}
	return value.([]Membership), nil
}

// Versions retrieves the target versions of a project. A remote failure
// degrades to nil.
func (g *Gateway) Versions(ctx context.Context, projectID string) ([]Version, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("versions", projectID), g.ttl,
		func(ctx context.Context) (any, error) {
			var page versionsPage
			path := fmt.Sprintf(
				"/projects/%s/versions.json", url.PathEscape(projectID),
			)
			if err := g.client.Get(ctx, path, nil, &page); err != nil {
				return nil, err
			}
			return page.Versions, nil
		},
	)
	if err != nil {
		return nil, g.readErr(err, g.log.Warn().Str("project", projectID), "version read failed")
	}
	return value.([]Version), nil
}

// Trackers retrieves the available issue trackers. A remote failure
// degrades to nil.
func (g *Gateway) Trackers(ctx context.Context) ([]Tracker, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("trackers"), g.ttl,
		func(ctx context.Context) (any, error) {
			var page trackersPage
			if err := g.client.Get(ctx, "/trackers.json", nil, &page); err != nil {
				return nil, err
			}
			return page.Trackers, nil
		},
	)
	if err != nil {
		return nil, g.readErr(err, g.log.Warn(), "tracker list read failed")
	}
	return value.([]Tracker), nil
}

// IssueStatuses retrieves the workflow statuses and applies the
// configured visibility filter. As with Projects, the cache stores the
// unfiltered list. A remote failure degrades to nil.
func (g *Gateway) IssueStatuses(ctx context.Context) ([]IssueStatus, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("issue-statuses"), g.ttl,
		func(ctx context.Context) (any, error) {
			var page issueStatusesPage
			if err := g.client.Get(ctx, "/issue_statuses.json", nil, &page); err != nil {
				return nil, err
			}
			return page.IssueStatuses, nil
		},
	)
	if err != nil {
		return nil, g.readErr(err, g.log.Warn(), "issue status read failed")
	}
	return g.filterStatuses(value.([]IssueStatus)), nil
}

// CurrentUser retrieves the account owner. A remote failure degrades to
// a zero User.
func (g *Gateway) CurrentUser(ctx context.Context) (User, error) {
	value, err := g.cache.GetAndFallback(
		ctx, g.key("current-user"), g.ttl,
		func(ctx context.Context) (any, error) {
			var env userEnvelope
			if err := g.client.Get(ctx, "/users/current.json", nil, &env); err != nil {
				return nil, err
			}
			return env.User, nil
		},
	)
	if err != nil {
		return User{}, g.readErr(err, g.log.Warn(), "current user read failed")
	}
	return value.(User), nil
}

// ValidateConnection verifies the account's URL and API key by fetching
// the current user without going through the cache. Returns the user's
// login on success.
func (g *Gateway) ValidateConnection(ctx context.Context) (string, error) {
	var env userEnvelope
	if err := g.client.Get(ctx, "/users/current.json", nil, &env); err != nil {
		return "", fmt.Errorf("validating tracker connection: %w", err)
	}
	return env.User.Login, nil
}

// === Writes (uncached, errors propagate) ===

// CreateIssue files a new issue and returns the created entity.
func (g *Gateway) CreateIssue(ctx context.Context, payload IssuePayload) (Issue, error) {
	var env issueEnvelope
	body := map[string]IssuePayload{"issue": payload}
	if err := g.client.Post(ctx, "/issues.json", body, &env); err != nil {
		return Issue{}, fmt.Errorf("creating issue: %w", err)
	}
	return env.Issue, nil
}

// UpdateIssue applies a partial update to an existing issue.
func (g *Gateway) UpdateIssue(ctx context.Context, id int, payload IssuePayload) error {
	body := map[string]IssuePayload{"issue": payload}
	if err := g.client.Put(ctx, fmt.Sprintf("/issues/%d.json", id), body); err != nil {
		return fmt.Errorf("updating issue %d: %w", id, err)
	}
	return nil
}

// DeleteIssue removes an issue.
func (g *Gateway) DeleteIssue(ctx context.Context, id int) error {
	if err := g.client.Delete(ctx, fmt.Sprintf("/issues/%d.json", id)); err != nil {
		return fmt.Errorf("deleting issue %d: %w", id, err)
	}
	return nil
}

// CreateRelation links two issues.
func (g *Gateway) CreateRelation(
	ctx context.Context,
	issueID int,
	payload RelationPayload,
) error {
	body := map[string]RelationPayload{"relation": payload}
	path := fmt.Sprintf("/issues/%d/relations.json", issueID)
	if err := g.client.Post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("creating relation on issue %d: %w", issueID, err)
	}
	return nil
}

// DeleteRelation removes an issue relation.
func (g *Gateway) DeleteRelation(ctx context.Context, relationID int) error {
	path := fmt.Sprintf("/relations/%d.json", relationID)
	if err := g.client.Delete(ctx, path); err != nil {
		return fmt.Errorf("deleting relation %d: %w", relationID, err)
	}
	return nil
}

// UploadAttachment sends raw attachment content and returns the upload
// token to reference from a subsequent issue create/update.
func (g *Gateway) UploadAttachment(
	ctx context.Context,
	filename string,
	data []byte,
) (string, error) {
	params := url.Values{}
	params.Set("filename", filename)

	var env uploadEnvelope
	if err := g.client.Upload(ctx, "/uploads.json", params, data, &env); err != nil {
		return "", fmt.Errorf("uploading attachment %s: %w", filename, err)
	}
	return env.Upload.Token, nil
}

// === Helpers ===

// pageParams builds the offset/limit query for one page request.
func pageParams(offset int) url.Values {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(requestLimit))
	return params
}

// fetchAll accumulates every page of a paginated list endpoint. The next
// offset always advances by the limit the server reported, which may
// differ from the limit requested.
func fetchAll[T any](
	ctx context.Context,
	fetchPage func(ctx context.Context, offset int) ([]T, int, int, error),
) ([]T, error) {
	all := []T{}
	offset := 0

	for {
		items, total, limit, err := fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		if limit <= 0 {
			limit = requestLimit
		}
		offset += limit

		// An empty page means the server has nothing more regardless
		// of what total_count claims.
		if offset >= total || len(items) == 0 {
			break
		}
	}

	return all, nil
}

// filterProjects applies the account's project visibility list. Entries
// match by identifier or by numeric id.
func (g *Gateway) filterProjects(projects []Project) []Project {
	cfg := g.config()
	if cfg.ProjectVisibility == model.VisibilityAll {
		return projects
	}

	listed := make(map[string]bool, len(cfg.VisibleProjects))
	for _, p := range cfg.VisibleProjects {
		listed[p] = true
	}

	keep := cfg.ProjectVisibility == model.VisibilityAllow
	filtered := make([]Project, 0, len(projects))
	for _, p := range projects {
		inList := listed[p.Identifier] || listed[strconv.Itoa(p.ID)]
		if inList == keep {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// filterStatuses applies the account's status visibility list.
func (g *Gateway) filterStatuses(statuses []IssueStatus) []IssueStatus {
	cfg := g.config()
	if cfg.StatusVisibility == model.VisibilityAll {
		return statuses
	}

	listed := make(map[int]bool, len(cfg.VisibleStatuses))
	for _, id := range cfg.VisibleStatuses {
		listed[id] = true
	}

	keep := cfg.StatusVisibility == model.VisibilityAllow
	filtered := make([]IssueStatus, 0, len(statuses))
	for _, s := range statuses {
		if listed[s.ID] == keep {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
