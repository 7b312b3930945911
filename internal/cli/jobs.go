package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/anuneko/pkg/cron"
	"github.com/harun/anuneko/pkg/gateway"
)

const cleanupJobName = "session-cleanup"

// Gateway methods for the scheduler
const (
	methodJobs   = "gateway.jobs"
	methodRunJob = "gateway.runJob"
)

// cleanupJob keeps the session cleanup job in step with cleanup_schedule
type cleanupJob struct {
	mu        sync.Mutex
	scheduler *cron.Service
	run       cron.JobFunc
	id        string
	spec      string
}

func newCleanupJob(scheduler *cron.Service, server *gateway.Server) *cleanupJob {
	return &cleanupJob{
		scheduler: scheduler,
		run: func(ctx context.Context) error {
			server.CleanupSessions(ctx, "scheduler")
			return nil
		},
	}
}

// apply schedules the cleanup on spec, replacing any previous schedule.
// An empty spec unschedules it. On error the previous schedule stays.
func (c *cleanupJob) apply(spec string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if spec == c.spec {
		return nil
	}

	var schedule cron.Schedule
	if spec != "" {
		var err error
		schedule, err = cron.ParseSchedule(spec)
		if err != nil {
			return fmt.Errorf("invalid gateway cleanup_schedule: %w", err)
		}
	}

	if c.id != "" {
		if err := c.scheduler.RemoveJob(c.id); err != nil {
			return err
		}
		c.id = ""
	}
	c.spec = ""

	if spec == "" {
		return nil
	}
	job, err := c.scheduler.AddJob(cleanupJobName, schedule, c.run)
	if err != nil {
		return err
	}
	c.id, c.spec = job.ID, spec
	return nil
}

// registerJobMethods exposes the scheduler over the gateway
func registerJobMethods(server *gateway.Server, scheduler *cron.Service) error {
	err := server.RegisterMethod(methodJobs, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"jobs": scheduler.ListJobs()}, nil
	})
	if err != nil {
		return err
	}

	return server.RegisterMethod(methodRunJob, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		id, ok := params["id"].(string)
		if !ok || id == "" {
			return nil, &gateway.RPCError{Code: gateway.InvalidParams, Message: "id parameter is required and must be a string"}
		}
		if err := scheduler.RunJob(id); err != nil {
			return nil, &gateway.RPCError{Code: gateway.InvalidParams, Message: err.Error()}
		}
		job, _ := scheduler.GetJob(id)
		return map[string]interface{}{"job": job}, nil
	})
}
