// Package dataservice implements the dataset-management side of the
// protocol: the handlers answering DATASET_MANAGEMENT and DATA_TRANSMISSION
// requests on top of the inquiry layer.
package dataservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/inquiry"
	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/server"
	"github.com/NOAA-OWP/DMOD-sub002/validation"
)

// transferTTL bounds how long an opened upload series may sit idle before
// it is abandoned.
const transferTTL = 30 * time.Minute

// transfer is one in-flight chunked upload.
type transfer struct {
	dataset  string
	item     string
	chunks   [][]byte
	user     string
	lastSeen time.Time
}

// Service answers dataset management requests. Uploads larger than one
// frame run as chunk series correlated by UUID.
type Service struct {
	collection *inquiry.ManagerCollection
	logger     *slog.Logger

	// validator, when set, gates JSON config items at upload completion.
	validator *validation.Validator

	mu        sync.Mutex
	transfers map[string]*transfer
}

// New builds a dataset management service. The validator may be nil.
func New(collection *inquiry.ManagerCollection, validator *validation.Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		collection: collection,
		logger:     logger,
		validator:  validator,
		transfers:  make(map[string]*transfer),
	}
}

// Register binds the service's handlers onto a listener.
func (s *Service) Register(srv *server.Service) error {
	if err := srv.RegisterHandler(message.EventDatasetManagement, server.HandlerFunc(s.HandleManagement)); err != nil {
		return err
	}
	return srv.RegisterHandler(message.EventDataTransmission, server.HandlerFunc(s.HandleTransmit))
}

// HandleManagement dispatches one management action.
func (s *Service) HandleManagement(ctx context.Context, req message.Request, rc *server.RequestContext) (message.ResponseMessage, error) {
	mgmt, ok := req.(*message.DatasetManagementMessage)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "dataservice", "HandleManagement", "request type check")
	}

	switch mgmt.Action {
	case message.ActionCreate:
		return s.handleCreate(ctx, mgmt)
	case message.ActionDelete:
		return s.handleDelete(ctx, mgmt)
	case message.ActionQuery:
		return s.handleQuery(ctx, mgmt)
	case message.ActionListAll:
		return s.handleListAll()
	case message.ActionAddData:
		return s.handleAddData(mgmt, rc)
	case message.ActionRequestData:
		return s.handleRequestData(ctx, mgmt)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: action %q", errors.ErrUnsupportedType, mgmt.Action),
			"dataservice", "HandleManagement", "action dispatch")
	}
}

// rejected builds a failed management reply carrying the reason detail.
func rejected(detail string) (message.ResponseMessage, error) {
	return message.NewDatasetManagementResponse(false, message.ReasonRejected, detail, nil)
}

func (s *Service) handleCreate(ctx context.Context, mgmt *message.DatasetManagementMessage) (message.ResponseMessage, error) {
	if mgmt.DatasetName == "" || mgmt.Domain == nil {
		return rejected("CREATE requires a dataset name and a data domain")
	}
	if mgmt.Category == datasets.CategoryUnknown {
		return rejected("CREATE requires a recognized category")
	}

	ds, err := s.collection.CreateDataset(ctx, mgmt.DatasetName, mgmt.Category, *mgmt.Domain, mgmt.ReadOnly, nil)
	if err != nil {
		if errors.IsInvalid(err) {
			return rejected(err.Error())
		}
		return nil, err
	}
	return message.NewDatasetManagementResponse(true, message.ReasonAccepted, "",
		&message.DatasetManagementPayload{DatasetName: ds.Name})
}

func (s *Service) handleDelete(ctx context.Context, mgmt *message.DatasetManagementMessage) (message.ResponseMessage, error) {
	if mgmt.DatasetName == "" {
		return rejected("DELETE requires a dataset name")
	}
	if err := s.collection.DeleteDataset(ctx, mgmt.DatasetName); err != nil {
		if errors.IsInvalid(err) {
			return rejected(err.Error())
		}
		return nil, err
	}
	return message.NewDatasetManagementResponse(true, message.ReasonAccepted, "",
		&message.DatasetManagementPayload{DatasetName: mgmt.DatasetName})
}

func (s *Service) handleQuery(ctx context.Context, mgmt *message.DatasetManagementMessage) (message.ResponseMessage, error) {
	if mgmt.DatasetName == "" {
		return rejected("QUERY requires a dataset name")
	}
	items, err := s.collection.ListItems(ctx, mgmt.DatasetName)
	if err != nil {
		if errors.IsInvalid(err) {
			return rejected(err.Error())
		}
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return message.NewDatasetManagementResponse(true, message.ReasonAccepted, "",
		&message.DatasetManagementPayload{DatasetName: mgmt.DatasetName, Items: names})
}

func (s *Service) handleListAll() (message.ResponseMessage, error) {
	return message.NewDatasetManagementResponse(true, message.ReasonAccepted, "",
		&message.DatasetManagementPayload{Datasets: s.collection.Names()})
}

// handleAddData opens an upload series; content arrives as DATA_TRANSMISSION
// chunks echoing the returned series UUID.
func (s *Service) handleAddData(mgmt *message.DatasetManagementMessage, rc *server.RequestContext) (message.ResponseMessage, error) {
	if mgmt.DatasetName == "" || mgmt.ItemName == "" {
		return rejected("ADD_DATA requires a dataset name and an item name")
	}
	ds, exists := s.collection.GetDataset(mgmt.DatasetName)
	if !exists {
		return rejected(fmt.Sprintf("dataset %q is not known", mgmt.DatasetName))
	}
	if ds.IsReadOnly {
		return rejected(fmt.Sprintf("dataset %q is read-only", mgmt.DatasetName))
	}

	user := ""
	if rc != nil && rc.Session != nil {
		user = rc.Session.User
	}

	series := uuid.New().String()
	s.mu.Lock()
	s.evictStaleLocked()
	s.transfers[series] = &transfer{
		dataset:  mgmt.DatasetName,
		item:     mgmt.ItemName,
		user:     user,
		lastSeen: time.Now(),
	}
	s.mu.Unlock()

	s.logger.Info("upload series opened",
		"dataset", mgmt.DatasetName, "item", mgmt.ItemName, "series", series)
	return message.NewDatasetManagementResponse(true, message.ReasonAccepted, "",
		&message.DatasetManagementPayload{
			DatasetName: mgmt.DatasetName,
			ItemName:    mgmt.ItemName,
			IsAwaiting:  true,
			SeriesUUID:  series,
		})
}

func (s *Service) handleRequestData(ctx context.Context, mgmt *message.DatasetManagementMessage) (message.ResponseMessage, error) {
	if mgmt.DatasetName == "" || mgmt.ItemName == "" {
		return rejected("REQUEST_DATA requires a dataset name and an item name")
	}
	data, err := s.collection.GetData(ctx, mgmt.DatasetName, mgmt.ItemName)
	if err != nil {
		if errors.IsInvalid(err) {
			return rejected(err.Error())
		}
		return nil, err
	}
	return message.NewDatasetManagementResponse(true, message.ReasonAccepted, "",
		&message.DatasetManagementPayload{
			DatasetName: mgmt.DatasetName,
			ItemName:    mgmt.ItemName,
			Data:        base64.StdEncoding.EncodeToString(data),
		})
}

// HandleTransmit accepts one chunk of an open upload series, committing the
// assembled item when the final chunk arrives.
func (s *Service) HandleTransmit(ctx context.Context, req message.Request, _ *server.RequestContext) (message.ResponseMessage, error) {
	chunk, ok := req.(*message.DataTransmitMessage)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "dataservice", "HandleTransmit", "request type check")
	}

	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return message.NewDataTransmitResponse(false, message.ReasonRejected,
			"chunk data is not valid base64"), nil
	}

	s.mu.Lock()
	tf, exists := s.transfers[chunk.SeriesUUID]
	if exists {
		tf.chunks = append(tf.chunks, data)
		tf.lastSeen = time.Now()
		if chunk.IsLast {
			delete(s.transfers, chunk.SeriesUUID)
		}
	}
	s.mu.Unlock()

	if !exists {
		return message.NewDataTransmitResponse(false, message.ReasonRejected,
			fmt.Sprintf("no open upload series %q", chunk.SeriesUUID)), nil
	}
	if !chunk.IsLast {
		return message.NewDataTransmitResponse(true, message.ReasonAccepted, ""), nil
	}

	assembled := assemble(tf.chunks)
	if s.validator != nil && isJSONItem(tf.item) {
		valid, verr := s.validator.Validate(assembled)
		if verr != nil || !valid {
			s.logger.Warn("uploaded item failed validation",
				"dataset", tf.dataset, "item", tf.item, "error", verr)
			return message.NewDataTransmitResponse(false, message.ReasonRejected,
				fmt.Sprintf("item %q failed schema validation", tf.item)), nil
		}
	}

	if err := s.collection.AddData(ctx, tf.dataset, tf.item, assembled); err != nil {
		if errors.IsInvalid(err) {
			return message.NewDataTransmitResponse(false, message.ReasonRejected, err.Error()), nil
		}
		return nil, err
	}

	s.logger.Info("upload series committed",
		"dataset", tf.dataset, "item", tf.item, "bytes", len(assembled))
	return message.NewDataTransmitResponse(true, message.ReasonAccepted, ""), nil
}

// evictStaleLocked drops idle upload series. Callers hold s.mu.
func (s *Service) evictStaleLocked() {
	cutoff := time.Now().Add(-transferTTL)
	for series, tf := range s.transfers {
		if tf.lastSeen.Before(cutoff) {
			delete(s.transfers, series)
		}
	}
}

func assemble(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func isJSONItem(item string) bool {
	return len(item) > 5 && item[len(item)-5:] == ".json"
}
