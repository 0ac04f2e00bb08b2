package orgresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/app/ocache"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/domain"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/retry"
)

const CName = "registry.orgresolver"

var log = logger.NewNamed(CName)

type configSource interface {
	GetResolver() Config
}

type Config struct {
	// ApiUrl is the organization registry endpoint; organization ids are
	// appended as a path segment.
	ApiUrl            string `yaml:"apiUrl"`
	TimeoutSec        int    `yaml:"timeoutSec"`
	LookupMaxAttempts int    `yaml:"lookupMaxAttempts"`
}

func New() OrgResolver {
	return new(orgResolver)
}

// OrgResolver resolves organization identifiers to labeled hierarchy nodes
// for expansion. Lookups are cached; resolution is read-only and failures
// are the caller's to degrade on.
type OrgResolver interface {
	Resolve(ctx context.Context, orgId string) (*domain.ExpandedOrganization, error)
	app.ComponentRunnable
}

type orgResolver struct {
	conf     Config
	policy   retry.Policy
	client   *http.Client
	orgCache ocache.OCache
}

func (r *orgResolver) Init(a *app.App) (err error) {
	r.conf = a.MustComponent("config").(configSource).GetResolver()
	r.policy = retry.Default().WithMaxAttempts(r.conf.LookupMaxAttempts)
	timeout := time.Duration(r.conf.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r.client = &http.Client{Timeout: timeout}
	r.orgCache = ocache.New(r.fetchOrg, ocache.WithLogger(log.Sugar()), ocache.WithGCPeriod(time.Hour), ocache.WithTTL(time.Hour))
	return nil
}

func (r *orgResolver) Name() (name string) {
	return CName
}

func (r *orgResolver) Run(ctx context.Context) (err error) {
	return
}

func (r *orgResolver) Resolve(ctx context.Context, orgId string) (*domain.ExpandedOrganization, error) {
	obj, err := r.orgCache.Get(ctx, orgId)
	if err != nil {
		return nil, err
	}
	return obj.(*orgObject).org, nil
}

type orgObject struct {
	org *domain.ExpandedOrganization
}

func (o *orgObject) Close() (err error) {
	return nil
}

func (o *orgObject) TryClose(objectTTL time.Duration) (res bool, err error) {
	if objectTTL > time.Hour {
		return true, nil
	}
	return false, nil
}

type orgDocument struct {
	Id     string            `json:"id"`
	Labels map[string]string `json:"labels"`
	PartOf []orgDocument     `json:"partOf"`
}

func (d orgDocument) expand() *domain.ExpandedOrganization {
	org := &domain.ExpandedOrganization{Id: d.Id, Labels: d.Labels}
	if len(d.PartOf) > 0 {
		org.PartOf = d.PartOf[0].expand()
	}
	return org
}

func (r *orgResolver) fetchOrg(ctx context.Context, orgId string) (object ocache.Object, err error) {
	var doc orgDocument
	err = r.policy.Do(ctx, func(ctx context.Context) error {
		reqUrl, err := url.JoinPath(r.conf.ApiUrl, url.PathEscape(orgId))
		if err != nil {
			return retry.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode == http.StatusNotFound {
			return retry.Permanent(ocache.ErrNotExists)
		}
		if resp.StatusCode != http.StatusOK {
			err = fmt.Errorf("org registry returned %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &orgObject{org: doc.expand()}, nil
}

func (r *orgResolver) Close(ctx context.Context) (err error) {
	return r.orgCache.Close()
}
