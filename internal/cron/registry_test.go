package cron

import (
	"context"
	"testing"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRunOrder(t *testing.T) {
	registry, err := NewRegistry(namedJob("delivery-sweeper"), namedJob("outbox-retention"))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0].Name() != "delivery-sweeper" || jobs[1].Name() != "outbox-retention" {
		t.Fatalf("unexpected jobs %v", jobs)
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryRejectsDuplicateAndUnnamedJobs(t *testing.T) {
	if _, err := NewRegistry(namedJob("delivery-sweeper"), namedJob("delivery-sweeper")); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if _, err := NewRegistry(namedJob("")); err == nil {
		t.Fatalf("expected unnamed job error")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatalf("expected nil job error")
	}
}
