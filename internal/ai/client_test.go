package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/wa-attendance-api/pkg/config"
)

func completionHandler(t *testing.T, content string, inspect func(req completionRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if inspect != nil {
			inspect(req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": content}}},
		})
	}
}

func newTestClient(url string, observe ObserveFunc) *Client {
	return New(config.AIConfig{BaseURL: url, APIKey: "test-key", Timeout: 5 * time.Second}, nil, observe)
}

func TestParseAttendance(t *testing.T) {
	srv := httptest.NewServer(completionHandler(t,
		`{"date":"2024-03-04","isHoliday":false,"attendance":[{"subjectCode":"CS101","status":"PRESENT"}],"needsMoreInfo":false}`,
		func(req completionRequest) {
			assert.Equal(t, defaultTextModel, req.Model)
			require.NotNil(t, req.ResponseFormat)
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
			require.Len(t, req.Messages, 2)
			system, _ := req.Messages[0].Content.(string)
			assert.Contains(t, system, "Current date: 2024-03-04 (Monday)")
			assert.Contains(t, system, `"code":"CS101"`)
			user, _ := req.Messages[1].Content.(string)
			assert.Contains(t, user, "Earlier message: skipped class")
		}))
	defer srv.Close()

	var observed []string
	client := newTestClient(srv.URL, func(kind string, err error, _ time.Duration) {
		assert.NoError(t, err)
		observed = append(observed, kind)
	})

	parsed, err := client.ParseAttendance(context.Background(), AttendanceQuery{
		Message:  "the morning one",
		Pending:  "skipped class",
		Today:    "2024-03-04",
		Weekday:  "Monday",
		Subjects: []SubjectHint{{Code: "CS101", Name: "Programming", Days: []string{"Monday"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04", parsed.Date)
	require.Len(t, parsed.Attendance, 1)
	assert.Equal(t, "CS101", parsed.Attendance[0].SubjectCode)
	assert.Equal(t, []string{KindAttendance}, observed)
}

func TestParseAttendanceClarification(t *testing.T) {
	srv := httptest.NewServer(completionHandler(t, `{"needsMoreInfo":true,"clarificationQuestion":"Which day?"}`, nil))
	defer srv.Close()

	parsed, err := newTestClient(srv.URL, nil).ParseAttendance(context.Background(), AttendanceQuery{Message: "missed it"})
	require.NoError(t, err)
	assert.True(t, parsed.NeedsMoreInfo)
	assert.Equal(t, "Which day?", parsed.ClarificationQuestion)
}

func TestParseScheduleStripsFences(t *testing.T) {
	reply := "Here you go:\n```json\n{\"studentInfo\":{\"name\":\"Asha\",\"rollNumber\":\"R1\",\"semester\":\"3\"},\"subjects\":[{\"code\":\"CS101\",\"name\":\"Programming\",\"credits\":\"4\"}],\"schedule\":[{\"day\":\"Monday\",\"slots\":[{\"subject\":\"CS101\",\"startTime\":\"09:00\",\"endTime\":\"10:00\",\"room\":null}]}],\"confidence\":\"high\"}\n```"
	srv := httptest.NewServer(completionHandler(t, reply, func(req completionRequest) {
		assert.Equal(t, defaultVisionModel, req.Model)
		assert.Equal(t, 4000, req.MaxTokens)
		parts, ok := req.Messages[0].Content.([]interface{})
		require.True(t, ok)
		require.Len(t, parts, 2)
		img := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
		assert.True(t, strings.HasPrefix(img["url"].(string), "data:image/png;base64,"))
	}))
	defer srv.Close()

	parsed, err := newTestClient(srv.URL, nil).ParseSchedule(context.Background(), []Image{{MimeType: "image/png", Data: []byte("png-bytes")}})
	require.NoError(t, err)
	name, roll, semester := parsed.StudentDetails()
	assert.Equal(t, "Asha", name)
	assert.Equal(t, "R1", roll)
	assert.Equal(t, 3, semester.Int())
	require.Len(t, parsed.Subjects, 1)
	assert.Equal(t, 4.0, parsed.Subjects[0].Credits.Value)
	assert.Equal(t, "high", parsed.Confidence)
}

func TestParseScheduleSendsPDFAsFile(t *testing.T) {
	srv := httptest.NewServer(completionHandler(t, `{"subjects":[],"schedule":[]}`, func(req completionRequest) {
		parts, ok := req.Messages[0].Content.([]interface{})
		require.True(t, ok)
		require.Len(t, parts, 2)
		part := parts[1].(map[string]interface{})
		assert.Equal(t, "file", part["type"])
		file := part["file"].(map[string]interface{})
		assert.Equal(t, "timetable.pdf", file["filename"])
		assert.True(t, strings.HasPrefix(file["file_data"].(string), "data:application/pdf;base64,"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, nil).ParseSchedule(context.Background(), []Image{{MimeType: "application/pdf", Filename: "timetable.pdf", Data: []byte("%PDF-1.4")}})
	require.NoError(t, err)
}

func TestParseScheduleNonJSONIsEmpty(t *testing.T) {
	srv := httptest.NewServer(completionHandler(t, "I could not read this image.", nil))
	defer srv.Close()

	parsed, err := newTestClient(srv.URL, nil).ParseSchedule(context.Background(), []Image{{Data: []byte("x")}})
	require.NoError(t, err)
	assert.True(t, parsed.Empty())
}

func TestClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var failures int
	client := newTestClient(srv.URL, func(kind string, err error, _ time.Duration) {
		if err != nil {
			failures++
		}
	})
	_, err := client.ParseAttendance(context.Background(), AttendanceQuery{Message: "present"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, 1, failures)
}

func TestClientNotConfigured(t *testing.T) {
	client := New(config.AIConfig{}, nil, nil)
	_, err := client.ParseAttendance(context.Background(), AttendanceQuery{Message: "present"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = client.ParseSchedule(context.Background(), nil)
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, extractJSON(`noise {"a":{"b":2}} trailing`))
	assert.Equal(t, "plain", extractJSON(" plain "))
}
