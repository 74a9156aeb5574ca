// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogFieldFormatterAddsFields(t *testing.T) {
	formatter := &LogFieldFormatter{
		Fields:    log.Fields{"app": "fleetop"},
		Formatter: &log.JSONFormatter{},
	}

	entry := log.NewEntry(log.New())
	entry.Message = "hello"

	out, err := formatter.Format(entry)
	assert.NoError(t, err)

	var decoded map[string]interface{}
	assert.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "fleetop", decoded["app"])
	assert.Equal(t, "hello", decoded["msg"])
}

func TestLogFieldFormatterDoesNotOverwrite(t *testing.T) {
	formatter := &LogFieldFormatter{
		Fields:    log.Fields{"app": "fleetop"},
		Formatter: &log.JSONFormatter{},
	}

	entry := log.NewEntry(log.New()).WithField("app", "other")

	out, err := formatter.Format(entry)
	assert.NoError(t, err)

	var decoded map[string]interface{}
	assert.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "other", decoded["app"])
}

func TestLevelOverwriteHandlerRequiresParams(t *testing.T) {
	handler := LevelOverwriteHandler(log.InfoLevel)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/logging-level", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest(
		http.MethodGet, "/logging-level?level=debug", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLevelOverwriteHandlerRejectsBadLevel(t *testing.T) {
	handler := LevelOverwriteHandler(log.InfoLevel)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(
		http.MethodGet, "/logging-level?level=warning&duration=1m", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest(
		http.MethodGet, "/logging-level?level=nonsense&duration=1m", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLevelOverwriteHandlerSetsLevel(t *testing.T) {
	handler := LevelOverwriteHandler(log.InfoLevel)
	defer log.SetLevel(log.InfoLevel)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(
		http.MethodGet, "/logging-level?level=debug&duration=10m", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}
