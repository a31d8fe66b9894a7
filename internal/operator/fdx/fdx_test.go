package fdx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/stretchr/testify/require"
)

func testOperator(t *testing.T, baseURL string) *Operator {
	t.Helper()
	op := New(NewClient(baseURL, "id", "secret"), models.NewStatusDescriptions())
	op.now = func() time.Time { return time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC) }
	return op
}

func mustID(t *testing.T, num string) models.TrackingID {
	t.Helper()
	id, err := models.ParseTrackingID("fdx-"+num, map[string]models.NumValidator{"fdx": nil})
	require.NoError(t, err)
	return id
}

func TestValidateTrackingNum(t *testing.T) {
	op := testOperator(t, "")
	require.NoError(t, op.ValidateTrackingNum("123456789012"))
	require.NoError(t, op.ValidateTrackingNum("123456789012345"))
	require.Error(t, op.ValidateTrackingNum("12345"))
	require.Error(t, op.ValidateTrackingNum("12345678901A"))
}

func TestProcessPushData_Rejected(t *testing.T) {
	op := testOperator(t, "")
	_, _, err := op.ProcessPushData(context.Background(), []byte(`{}`))
	require.Equal(t, apperrors.CodeNotImplemented, apperrors.Code(err))
}

func TestPullFromSource_OversizedBatchRejected(t *testing.T) {
	op := testOperator(t, "")
	ids := make([]models.TrackingID, maxBatchSize+1)
	for i := range ids {
		ids[i] = mustID(t, "123456789012")
	}

	_, err := op.PullFromSource(context.Background(), ids, nil, models.UpdateMethodScheduledPull)
	require.Equal(t, apperrors.CodeBadRequest, apperrors.Code(err))
	require.Contains(t, err.Error(), "got 31")
}

func TestConvert_MapsAndMarksCrossBorder(t *testing.T) {
	op := testOperator(t, "")
	id := mustID(t, "123456789012")

	res := completeTrackResult{
		TrackingNumber: id.TrackingNum,
		TrackResults: []trackResult{{
			ScanEvents: []scanEvent{
				{Date: "2024-04-01T08:00:00Z", DerivedStatusCode: "PU", EventType: "PU", EventDescription: "Picked up", ScanLocation: scanLocation{City: "Memphis", CountryCode: "US"}},
				{Date: "2024-04-02T09:00:00Z", DerivedStatusCode: "IT", EventType: "CC", EventDescription: "International shipment release"},
				{Date: "2024-04-03T10:00:00Z", DerivedStatusCode: "IT", EventType: "AR", EventDescription: "At local facility", LocationType: "DESTINATION_FEDEX_FACILITY"},
				{Date: "2024-04-03T12:00:00Z", DerivedStatusCode: "XX", EventType: "??", EventDescription: "New carrier code"},
			},
		}},
	}

	e := op.convert(id, res, models.UpdateMethodScheduledPull)
	require.NotNil(t, e)
	require.True(t, e.IsCrossBorder())
	require.False(t, e.Completed)

	statuses := map[int]bool{}
	for _, ev := range e.Events {
		statuses[ev.Status] = true
	}
	require.True(t, statuses[models.StatusReceivedByCarrier])
	require.True(t, statuses[models.StatusCustomsReleased])
	require.True(t, statuses[models.StatusArrivedDestination])
	// Незнакомый код деградирует в generic in-progress.
	require.True(t, statuses[models.StatusLogisticsInProgress])

	require.Equal(t, "Memphis, US", e.Events[0].Where)
	require.Equal(t, models.UpdateMethodScheduledPull, e.Events[0].Additional["updateMethod"])
	require.NotEmpty(t, e.Events[0].SourceData)
}

func TestConvert_SynthesizesArrivedAtDestination(t *testing.T) {
	op := testOperator(t, "")
	id := mustID(t, "123456789012")

	delivered := time.Date(2024, 4, 3, 18, 30, 0, 0, time.UTC)
	res := completeTrackResult{
		TrackingNumber: id.TrackingNum,
		TrackResults: []trackResult{{
			ScanEvents: []scanEvent{
				{Date: "2024-04-01T08:00:00Z", DerivedStatusCode: "IT", EventType: "IT", EventDescription: "In transit", ScanLocation: scanLocation{City: "Hub"}},
				{Date: "2024-04-03T18:30:00Z", DerivedStatusCode: "DL", EventType: "DL", EventDescription: "Delivered", ScanLocation: scanLocation{City: "Springfield"}},
			},
		}},
	}

	e := op.convert(id, res, models.UpdateMethodManualPull)
	require.NotNil(t, e)
	require.True(t, e.Completed)

	var synth *models.Event
	for _, ev := range e.Events {
		if ev.Status == models.StatusArrivedDestination {
			synth = ev
		}
	}
	require.NotNil(t, synth, "3300 must be synthesized between 3250 and 3500")
	require.Equal(t, delivered.Add(-time.Second), synth.When)
	require.Equal(t, "Springfield", synth.Where)
	require.Equal(t, models.UpdateMethodSystem, synth.Additional["updateMethod"])
}

func TestConvert_MinorMilestoneImpliesPickup(t *testing.T) {
	op := testOperator(t, "")
	id := mustID(t, "123456789012")

	// История из одного промежуточного скана: приём должен досинтезироваться.
	res := completeTrackResult{
		TrackingNumber: id.TrackingNum,
		TrackResults: []trackResult{{
			ScanEvents: []scanEvent{
				{Date: "2024-04-02T09:00:00Z", DerivedStatusCode: "IT", EventType: "IT", EventDescription: "In transit", ScanLocation: scanLocation{City: "Hub"}},
			},
		}},
	}

	e := op.convert(id, res, models.UpdateMethodScheduledPull)
	require.NotNil(t, e)
	require.True(t, e.HasStatus(models.StatusInTransit))
	require.True(t, e.HasStatus(models.StatusReceivedByCarrier))
}

func TestConvert_FutureScanBecomesInfoReceived(t *testing.T) {
	op := testOperator(t, "")
	id := mustID(t, "123456789012")

	res := completeTrackResult{
		TrackingNumber: id.TrackingNum,
		TrackResults: []trackResult{{
			ScanEvents: []scanEvent{
				// now у оператора зафиксирован на 2024-04-10.
				{Date: "2024-05-01T08:00:00Z", DerivedStatusCode: "DL", EventType: "DL", EventDescription: "Scheduled"},
			},
		}},
	}

	e := op.convert(id, res, models.UpdateMethodScheduledPull)
	require.NotNil(t, e)
	require.Equal(t, models.StatusInfoReceived, e.Events[0].Status)
	require.False(t, e.Completed)
}

func TestConvert_ExceptionMapping(t *testing.T) {
	op := testOperator(t, "")
	id := mustID(t, "123456789012")

	res := completeTrackResult{
		TrackingNumber: id.TrackingNum,
		TrackResults: []trackResult{{
			ScanEvents: []scanEvent{
				{Date: "2024-04-01T08:00:00Z", DerivedStatusCode: "DE", EventType: "DE", ExceptionCode: "08", ExceptionDescription: "Customer not available"},
				{Date: "2024-04-02T08:00:00Z", DerivedStatusCode: "DE", EventType: "DE", ExceptionCode: "ZZ"},
			},
		}},
	}

	e := op.convert(id, res, models.UpdateMethodScheduledPull)
	require.Equal(t, "E-NOT-HOME", e.Events[0].ExceptionCode)
	// Неизвестный код не теряется, а всплывает как generic exception.
	require.Equal(t, "E-GEN", e.Events[1].ExceptionCode)
}

func TestConvert_Idempotent(t *testing.T) {
	op := testOperator(t, "")
	id := mustID(t, "123456789012")

	res := completeTrackResult{
		TrackingNumber: id.TrackingNum,
		TrackResults: []trackResult{{
			ScanEvents: []scanEvent{
				{Date: "2024-04-01T08:00:00Z", DerivedStatusCode: "PU", EventType: "PU"},
				{Date: "2024-04-01T08:00:00Z", DerivedStatusCode: "PU", EventType: "PU"}, // дубль скана
			},
		}},
	}

	a := op.convert(id, res, models.UpdateMethodScheduledPull)
	require.Len(t, a.Events, 1)

	b := op.convert(id, res, models.UpdateMethodScheduledPull)
	require.Equal(t, a.EventIDs(), b.EventIDs())
}

func TestPullFromSource_HTTP(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "client_credentials", r.FormValue("grant_type"))
			_ = json.NewEncoder(w).Encode(oauthReply{AccessToken: "tok", ExpiresIn: 3600})
		case "/track/v1/trackingnumbers":
			gotAuth = r.Header.Get("Authorization")
			var req trackRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.True(t, req.IncludeDetailedScans)
			require.Len(t, req.TrackingInfo, 1)
			_, _ = w.Write([]byte(`{"output":{"completeTrackResults":[{"trackingNumber":"123456789012","trackResults":[{"scanEvents":[{"date":"2024-04-01T08:00:00Z","eventType":"PU","eventDescription":"Picked up","scanLocation":{"city":"Memphis"},"derivedStatusCode":"PU"}]}]}]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	op := testOperator(t, srv.URL)
	out, err := op.PullFromSource(context.Background(), []models.TrackingID{mustID(t, "123456789012")}, nil, models.UpdateMethodScheduledPull)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "fdx-123456789012", out[0].ID)
	require.Equal(t, models.StatusReceivedByCarrier, out[0].Events[0].Status)
}

func TestPullFromSource_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	op := testOperator(t, srv.URL)
	_, err := op.PullFromSource(context.Background(), []models.TrackingID{mustID(t, "123456789012")}, nil, models.UpdateMethodScheduledPull)
	require.Equal(t, apperrors.CodeConfiguration, apperrors.Code(err))
}

func TestPullFromSource_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			_ = json.NewEncoder(w).Encode(oauthReply{AccessToken: "tok", ExpiresIn: 3600})
			return
		}
		_, _ = w.Write([]byte(`{"output":{"completeTrackResults":[]}}`))
	}))
	defer srv.Close()

	op := testOperator(t, srv.URL)
	_, err := op.PullFromSource(context.Background(), []models.TrackingID{mustID(t, "123456789012")}, nil, models.UpdateMethodScheduledPull)
	require.True(t, apperrors.IsNotFound(err))
}
