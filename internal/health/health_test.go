package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/riskguard/riskguard/internal/circuitbreaker"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Healthy: true}
	})
	r.RegisterOptional("geo", func(_ context.Context) Status {
		return Status{Name: "geo", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || Degraded(statuses) {
		t.Fatal("all-healthy registry should report healthy")
	}
	if statuses[0].Name != "database" || !statuses[0].Critical {
		t.Errorf("statuses[0] = %+v, want named critical database", statuses[0])
	}
	if statuses[1].Critical {
		t.Error("optional check reported as critical")
	}
}

func TestRegistryCriticalFailure(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with failing critical check should report unhealthy")
	}
	if statuses[0].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[0].Detail)
	}
}

func TestRegistryOptionalFailureDegrades(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status { return Status{Healthy: true} })
	r.RegisterOptional("geo", func(_ context.Context) Status { return Status{Healthy: false} })

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("optional failure must not make the service unhealthy")
	}
	if !Degraded(statuses) {
		t.Fatal("optional failure should degrade the service")
	}
}

func TestRegistryCheckTimeout(t *testing.T) {
	r := NewRegistry()
	r.timeout = 20 * time.Millisecond
	r.Register("slow", func(ctx context.Context) Status {
		<-ctx.Done()
		return Status{Healthy: false, Detail: ctx.Err().Error()}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed-out check should be unhealthy")
	}
	if statuses[0].Detail != context.DeadlineExceeded.Error() {
		t.Errorf("detail = %q", statuses[0].Detail)
	}
}

func TestBreakerChecker(t *testing.T) {
	b := circuitbreaker.New(1, time.Hour)
	check := Breaker("geo", b, []string{"zipcodestack", "nominatim"})

	if st := check(context.Background()); !st.Healthy || st.Detail != "" {
		t.Fatalf("closed circuits: %+v", st)
	}

	b.RecordFailure("zipcodestack")
	st := check(context.Background())
	if !st.Healthy {
		t.Fatal("one open circuit should leave the group healthy")
	}
	if st.Detail != "circuit open: zipcodestack" {
		t.Errorf("detail = %q", st.Detail)
	}

	b.RecordFailure("nominatim")
	if st := check(context.Background()); st.Healthy {
		t.Fatal("all circuits open should be unhealthy")
	}

	if st := Breaker("geo", b, nil)(context.Background()); st.Healthy {
		t.Fatal("no providers should be unhealthy")
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
