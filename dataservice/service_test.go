package dataservice

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/inquiry"
	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/server"
	"github.com/NOAA-OWP/DMOD-sub002/session"
	"github.com/NOAA-OWP/DMOD-sub002/storage/fsstore"
	"github.com/NOAA-OWP/DMOD-sub002/validation"
)

func newService(t *testing.T, validator *validation.Validator) (*Service, *inquiry.ManagerCollection) {
	t.Helper()
	backend, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	collection, err := inquiry.NewManagerCollection(backend, nil, nil)
	require.NoError(t, err)
	return New(collection, validator, nil), collection
}

func forcingDomain() *datasets.DataDomain {
	return &datasets.DataDomain{
		Format: datasets.FormatAorcCSV,
		DiscreteRestrictions: []datasets.DiscreteRestriction{
			{Variable: datasets.VariableCatchmentID, Values: []string{"cat-1"}},
		},
	}
}

func manage(t *testing.T, s *Service, msg *message.DatasetManagementMessage) *message.DatasetManagementResponse {
	t.Helper()
	resp, err := s.HandleManagement(context.Background(), msg, nil)
	require.NoError(t, err)
	typed, ok := resp.(*message.DatasetManagementResponse)
	require.True(t, ok)
	return typed
}

func payloadOf(t *testing.T, resp *message.DatasetManagementResponse) *message.DatasetManagementPayload {
	t.Helper()
	payload, err := resp.Payload()
	require.NoError(t, err)
	return payload
}

func TestCreateQueryDeleteFlow(t *testing.T) {
	s, _ := newService(t, nil)

	create := manage(t, s, &message.DatasetManagementMessage{
		Action:      message.ActionCreate,
		DatasetName: "forcing-1",
		Category:    datasets.CategoryForcing,
		Domain:      forcingDomain(),
	})
	require.True(t, create.Success, create.Message)
	assert.Equal(t, "forcing-1", payloadOf(t, create).DatasetName)

	list := manage(t, s, &message.DatasetManagementMessage{Action: message.ActionListAll})
	require.True(t, list.Success)
	assert.Equal(t, []string{"forcing-1"}, payloadOf(t, list).Datasets)

	query := manage(t, s, &message.DatasetManagementMessage{
		Action:      message.ActionQuery,
		DatasetName: "forcing-1",
	})
	require.True(t, query.Success)
	assert.Empty(t, payloadOf(t, query).Items)

	del := manage(t, s, &message.DatasetManagementMessage{
		Action:      message.ActionDelete,
		DatasetName: "forcing-1",
	})
	require.True(t, del.Success)

	list = manage(t, s, &message.DatasetManagementMessage{Action: message.ActionListAll})
	require.True(t, list.Success)
	assert.Empty(t, payloadOf(t, list).Datasets)
}

func TestCreateValidation(t *testing.T) {
	s, _ := newService(t, nil)

	tests := []struct {
		name string
		msg  *message.DatasetManagementMessage
	}{
		{
			name: "missing domain",
			msg: &message.DatasetManagementMessage{
				Action:      message.ActionCreate,
				DatasetName: "forcing-1",
				Category:    datasets.CategoryForcing,
			},
		},
		{
			name: "missing category",
			msg: &message.DatasetManagementMessage{
				Action:      message.ActionCreate,
				DatasetName: "forcing-1",
				Domain:      forcingDomain(),
			},
		},
		{
			name: "invalid name",
			msg: &message.DatasetManagementMessage{
				Action:      message.ActionCreate,
				DatasetName: "Bad_Name",
				Category:    datasets.CategoryForcing,
				Domain:      forcingDomain(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := manage(t, s, tt.msg)
			assert.False(t, resp.Success)
			assert.Equal(t, message.ReasonRejected, resp.Reason)
		})
	}

	t.Run("duplicate create rejected", func(t *testing.T) {
		msg := &message.DatasetManagementMessage{
			Action:      message.ActionCreate,
			DatasetName: "forcing-1",
			Category:    datasets.CategoryForcing,
			Domain:      forcingDomain(),
		}
		require.True(t, manage(t, s, msg).Success)
		resp := manage(t, s, msg)
		assert.False(t, resp.Success)
	})
}

func sendChunk(t *testing.T, s *Service, series string, data []byte, last bool) *message.DataTransmitResponse {
	t.Helper()
	resp, err := s.HandleTransmit(context.Background(), &message.DataTransmitMessage{
		SeriesUUID: series,
		Data:       base64.StdEncoding.EncodeToString(data),
		IsLast:     last,
	}, nil)
	require.NoError(t, err)
	typed, ok := resp.(*message.DataTransmitResponse)
	require.True(t, ok)
	return typed
}

func TestChunkedUpload(t *testing.T) {
	s, collection := newService(t, nil)
	rc := &server.RequestContext{Session: &session.Session{User: "alice"}}

	require.True(t, manage(t, s, &message.DatasetManagementMessage{
		Action:      message.ActionCreate,
		DatasetName: "config-1",
		Category:    datasets.CategoryConfig,
		Domain:      forcingDomain(),
	}).Success)

	open, err := s.HandleManagement(context.Background(), &message.DatasetManagementMessage{
		Action:      message.ActionAddData,
		DatasetName: "config-1",
		ItemName:    "parts.bin",
		PendingData: true,
	}, rc)
	require.NoError(t, err)
	payload := payloadOf(t, open.(*message.DatasetManagementResponse))
	require.True(t, payload.IsAwaiting)
	require.NotEmpty(t, payload.SeriesUUID)

	first := sendChunk(t, s, payload.SeriesUUID, []byte("hello "), false)
	assert.True(t, first.Success)

	last := sendChunk(t, s, payload.SeriesUUID, []byte("world"), true)
	require.True(t, last.Success, last.Message)

	data, err := collection.GetData(context.Background(), "config-1", "parts.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	t.Run("series is closed after the last chunk", func(t *testing.T) {
		resp := sendChunk(t, s, payload.SeriesUUID, []byte("extra"), true)
		assert.False(t, resp.Success)
	})
}

func TestTransmitRejections(t *testing.T) {
	s, _ := newService(t, nil)

	t.Run("unknown series", func(t *testing.T) {
		resp := sendChunk(t, s, "no-such-series", []byte("x"), true)
		assert.False(t, resp.Success)
		assert.Equal(t, message.ReasonRejected, resp.Reason)
	})

	t.Run("invalid base64", func(t *testing.T) {
		resp, err := s.HandleTransmit(context.Background(), &message.DataTransmitMessage{
			SeriesUUID: "whatever",
			Data:       "%%% not base64 %%%",
			IsLast:     true,
		}, nil)
		require.NoError(t, err)
		assert.False(t, resp.(*message.DataTransmitResponse).Success)
	})
}

func TestUploadSchemaValidation(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`)
	validator, err := validation.NewValidator("config.schema.json", schema)
	require.NoError(t, err)

	s, collection := newService(t, validator)
	require.True(t, manage(t, s, &message.DatasetManagementMessage{
		Action:      message.ActionCreate,
		DatasetName: "config-1",
		Category:    datasets.CategoryConfig,
		Domain:      forcingDomain(),
	}).Success)

	upload := func(t *testing.T, item string, content []byte) *message.DataTransmitResponse {
		open, err := s.HandleManagement(context.Background(), &message.DatasetManagementMessage{
			Action:      message.ActionAddData,
			DatasetName: "config-1",
			ItemName:    item,
		}, nil)
		require.NoError(t, err)
		series := payloadOf(t, open.(*message.DatasetManagementResponse)).SeriesUUID
		return sendChunk(t, s, series, content, true)
	}

	t.Run("conforming json accepted", func(t *testing.T) {
		resp := upload(t, "good.json", []byte(`{"name":"cfe"}`))
		assert.True(t, resp.Success, resp.Message)
	})
	t.Run("violating json rejected", func(t *testing.T) {
		resp := upload(t, "bad.json", []byte(`{"other":1}`))
		assert.False(t, resp.Success)

		_, err := collection.GetData(context.Background(), "config-1", "bad.json")
		assert.Error(t, err, "rejected item must not be committed")
	})
	t.Run("non-json items bypass the schema gate", func(t *testing.T) {
		resp := upload(t, "notes.txt", []byte("free text"))
		assert.True(t, resp.Success)
	})
}

func TestRequestDataInline(t *testing.T) {
	s, collection := newService(t, nil)
	require.True(t, manage(t, s, &message.DatasetManagementMessage{
		Action:      message.ActionCreate,
		DatasetName: "config-1",
		Category:    datasets.CategoryConfig,
		Domain:      forcingDomain(),
	}).Success)
	require.NoError(t, collection.AddData(context.Background(), "config-1", "item.bin", []byte{0x01, 0x02}))

	resp := manage(t, s, &message.DatasetManagementMessage{
		Action:      message.ActionRequestData,
		DatasetName: "config-1",
		ItemName:    "item.bin",
	})
	require.True(t, resp.Success)

	payload := payloadOf(t, resp)
	data, err := base64.StdEncoding.DecodeString(payload.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	t.Run("missing item rejected", func(t *testing.T) {
		resp := manage(t, s, &message.DatasetManagementMessage{
			Action:      message.ActionRequestData,
			DatasetName: "config-1",
			ItemName:    "absent.bin",
		})
		assert.False(t, resp.Success)
	})
}
