package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/listserv/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded", "not_configured"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HeadBucketAPI is the S3 call used to probe the message bucket.
type HeadBucketAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// ListCounter reports the number of provisioned lists; it doubles as a
// probe of the list repository.
type ListCounter func(ctx context.Context) (int, error)

// HealthChecker probes the service dependencies. Any of them may be nil and
// is then reported as not configured.
type HealthChecker struct {
	db        *sql.DB
	redis     *redis.Client
	s3        HeadBucketAPI
	bucket    string
	lists     ListCounter
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, s3Client HeadBucketAPI, bucket string, lists ListCounter) *HealthChecker {
	return &HealthChecker{
		db:        db,
		redis:     redisClient,
		s3:        s3Client,
		bucket:    bucket,
		lists:     lists,
		startTime: time.Now(),
	}
}

const healthVersion = "1.0.0"

// HandleHealth always answers 200; the body carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  time.Since(hc.startTime).Truncate(time.Second).String(),
		Checks:  checks,
	})
}

// HandleReadiness answers 503 while a configured dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)
	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  overall != "unhealthy",
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	probes := map[string]func(context.Context) ComponentCheck{
		"database": hc.checkDatabase,
		"redis":    hc.checkRedis,
		"s3":       hc.checkS3,
		"lists":    hc.checkLists,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	checks := make(map[string]ComponentCheck, len(probes))
	for name, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := probe(ctx)
			mu.Lock()
			checks[name] = c
			mu.Unlock()
		}()
	}
	wg.Wait()
	return checks
}

// timed runs fn under a timeout and grades the result against slow.
func timed(ctx context.Context, timeout, slow time.Duration, fn func(context.Context) (string, error)) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	msg, err := fn(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: err.Error()}
	}
	if latency > slow {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: msg}
}

var notConfigured = ComponentCheck{Status: "not_configured"}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return notConfigured
	}
	return timed(ctx, 3*time.Second, time.Second, func(ctx context.Context) (string, error) {
		if err := hc.db.PingContext(ctx); err != nil {
			return "", fmt.Errorf("ping failed: %w", err)
		}
		return "connected", nil
	})
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redis == nil {
		return notConfigured
	}
	return timed(ctx, 2*time.Second, 500*time.Millisecond, func(ctx context.Context) (string, error) {
		if err := hc.redis.Ping(ctx).Err(); err != nil {
			return "", fmt.Errorf("ping failed: %w", err)
		}
		return "connected", nil
	})
}

func (hc *HealthChecker) checkS3(ctx context.Context) ComponentCheck {
	if hc.s3 == nil || hc.bucket == "" {
		return notConfigured
	}
	return timed(ctx, 3*time.Second, time.Second, func(ctx context.Context) (string, error) {
		if _, err := hc.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &hc.bucket}); err != nil {
			return "", fmt.Errorf("HeadBucket failed: %w", err)
		}
		return fmt.Sprintf("bucket %q accessible", hc.bucket), nil
	})
}

func (hc *HealthChecker) checkLists(ctx context.Context) ComponentCheck {
	if hc.lists == nil {
		return notConfigured
	}
	return timed(ctx, 3*time.Second, time.Second, func(ctx context.Context) (string, error) {
		n, err := hc.lists(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d lists", n), nil
	})
}

// determineOverallStatus is "unhealthy" when the list repository or the
// message bucket is down, "degraded" when anything else is down or slow.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	for _, critical := range []string{"lists", "s3"} {
		if checks[critical].Status == "down" {
			return "unhealthy"
		}
	}
	for _, c := range checks {
		if c.Status == "down" || c.Status == "degraded" {
			return "degraded"
		}
	}
	return "healthy"
}
