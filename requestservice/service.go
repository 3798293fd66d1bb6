// Package requestservice implements the job-facing side of the protocol:
// model execution submissions, internal scheduler requests, partitioning,
// evaluation and calibration submissions, and connection metadata.
package requestservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/inquiry"
	"github.com/NOAA-OWP/DMOD-sub002/job"
	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/server"
)

// Service answers job-related requests over a dataset collection and
// inquiry engine. Jobs are tracked in memory; scheduling and execution are
// owned by external collaborators this service hands jobs off to.
type Service struct {
	engine     *inquiry.Engine
	collection *inquiry.ManagerCollection
	logger     *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New builds a request service.
func New(engine *inquiry.Engine, collection *inquiry.ManagerCollection, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:     engine,
		collection: collection,
		logger:     logger,
		jobs:       make(map[string]*job.Job),
	}
}

// Register binds the service's handlers onto a listener.
func (s *Service) Register(srv *server.Service) error {
	bindings := []struct {
		event   message.EventType
		handler server.HandlerFunc
	}{
		{message.EventModelExecRequest, s.HandleModelExec},
		{message.EventSchedulerRequest, s.HandleScheduler},
		{message.EventPartitionRequest, s.HandlePartition},
		{message.EventEvaluationRequest, s.HandleEvaluation},
		{message.EventCalibrationRequest, s.HandleCalibration},
		{message.EventMetadata, s.HandleMetadata},
	}
	for _, b := range bindings {
		if err := srv.RegisterHandler(b.event, b.handler); err != nil {
			return err
		}
	}
	return nil
}

// Job returns a tracked job by id.
func (s *Service) Job(id string) (*job.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jb, ok := s.jobs[id]
	return jb, ok
}

// JobIDs returns tracked job ids in lexicographic order.
func (s *Service) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) track(jb *job.Job) {
	s.mu.Lock()
	s.jobs[jb.ID] = jb
	s.mu.Unlock()
}

// HandleScheduler accepts an internal scheduler request for a job whose
// data requirements were already resolved by the submitting service.
func (s *Service) HandleScheduler(ctx context.Context, req message.Request, _ *server.RequestContext) (message.ResponseMessage, error) {
	sched, ok := req.(*message.SchedulerRequestMessage)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "requestservice", "HandleScheduler", "request type check")
	}

	jb := &job.Job{
		ID:          newJobID(),
		User:        sched.UserID,
		Status:      job.StepAwaitingScheduled,
		CPUCount:    sched.CPUs,
		MemoryBytes: sched.Memory,
		Request:     &sched.Model,
	}

	outputID, err := s.createOutputDataset(ctx, jb)
	if err != nil {
		s.logger.Error("output dataset creation failed", "job", jb.ID, "error", err)
		return message.NewSchedulerRequestResponse(false, message.ReasonRejected,
			"could not provision output dataset", nil)
	}

	s.track(jb)
	s.logger.Info("job queued for scheduling",
		"job", jb.ID, "user", jb.User, "paradigm", sched.AllocationParadigm)
	return message.NewSchedulerRequestResponse(true, message.ReasonAccepted, "",
		&message.SchedulerPayload{JobID: jb.ID, OutputDataID: outputID})
}

// HandlePartition produces an ngen partition configuration dataset for a
// hydrofabric.
func (s *Service) HandlePartition(ctx context.Context, req message.Request, _ *server.RequestContext) (message.ResponseMessage, error) {
	part, ok := req.(*message.PartitionRequest)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "requestservice", "HandlePartition", "request type check")
	}

	name := fmt.Sprintf("partition-config-%s", strings.ToLower(uuid.New().String()[:8]))
	domain := datasets.DataDomain{
		Format: datasets.FormatNGENPartitionConfig,
		DiscreteRestrictions: []datasets.DiscreteRestriction{
			{Variable: datasets.VariableDataID, Values: []string{name}},
			{Variable: datasets.VariableHydrofabricID, Values: []string{part.HydrofabricDataID}},
		},
	}

	ds, err := s.collection.CreateDataset(ctx, name, datasets.CategoryConfig, domain, false, nil)
	if err != nil {
		s.logger.Error("partition dataset creation failed", "error", err)
		return message.NewPartitionResponse(false, message.ReasonRejected,
			"could not provision partition config dataset", nil)
	}

	doc := map[string]any{
		"partition_count":     part.PartitionCount,
		"hydrofabric_data_id": part.HydrofabricDataID,
		"hydrofabric_uid":     part.HydrofabricUID,
		"description":         part.Description,
	}
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.WrapInvalid(err, "requestservice", "HandlePartition", "marshal partition config")
	}
	if err := s.collection.AddData(ctx, ds.Name, "partition_config.json", content); err != nil {
		return nil, err
	}

	s.logger.Info("partition config produced",
		"dataset", ds.Name, "partitions", part.PartitionCount)
	return message.NewPartitionResponse(true, message.ReasonAccepted, "",
		&message.PartitionPayload{DataID: ds.Name})
}

// HandleEvaluation registers an evaluation job against an evaluation spec
// dataset.
func (s *Service) HandleEvaluation(_ context.Context, req message.Request, rc *server.RequestContext) (message.ResponseMessage, error) {
	eval, ok := req.(*message.EvaluationRequest)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "requestservice", "HandleEvaluation", "request type check")
	}

	jb := &job.Job{
		ID:     newJobID(),
		User:   requestUser(rc),
		Status: job.StepAwaitingScheduled,
		Request: &job.ModelRequest{
			JobType:      "evaluation",
			ConfigDataID: eval.SpecDataID,
		},
	}
	s.track(jb)
	s.logger.Info("evaluation job registered",
		"job", jb.ID, "evaluation", eval.EvaluationName, "spec", eval.SpecDataID)
	return message.NewGenericResponse(message.EventEvaluationRequest, true,
		message.ReasonAccepted, jb.ID), nil
}

// HandleCalibration registers a calibration job against an ngen-cal config
// dataset.
func (s *Service) HandleCalibration(_ context.Context, req message.Request, rc *server.RequestContext) (message.ResponseMessage, error) {
	cal, ok := req.(*message.CalibrationRequest)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "requestservice", "HandleCalibration", "request type check")
	}

	jb := &job.Job{
		ID:     newJobID(),
		User:   requestUser(rc),
		Status: job.StepAwaitingScheduled,
		Request: &job.ModelRequest{
			JobType:         "ngen-cal",
			NGENCalConfigID: cal.CalConfigDataID,
		},
	}
	s.track(jb)
	s.logger.Info("calibration job registered",
		"job", jb.ID, "config", cal.CalConfigDataID, "iterations", cal.Iterations)
	return message.NewGenericResponse(message.EventCalibrationRequest, true,
		message.ReasonAccepted, jb.ID), nil
}

// HandleMetadata acknowledges connection metadata negotiation.
func (s *Service) HandleMetadata(_ context.Context, req message.Request, _ *server.RequestContext) (message.ResponseMessage, error) {
	meta, ok := req.(*message.MetadataMessage)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "requestservice", "HandleMetadata", "request type check")
	}

	switch meta.Purpose {
	case message.MetadataConnect, message.MetadataDisconnect,
		message.MetadataPrompt, message.MetadataUnchanged:
		return message.NewMetadataResponse(true, message.ReasonAccepted, ""), nil
	default:
		return message.NewMetadataResponse(false, message.ReasonRejected,
			fmt.Sprintf("unrecognized metadata purpose %q", meta.Purpose)), nil
	}
}

func requestUser(rc *server.RequestContext) string {
	if rc != nil && rc.Session != nil {
		return rc.Session.User
	}
	return ""
}

func newJobID() string {
	return strings.ToLower(uuid.New().String())
}
