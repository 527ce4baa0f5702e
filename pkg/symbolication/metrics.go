package symbolication

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/profiletree/pkg/util"
)

const (
	statusSuccess = "success"

	statusErrorPrefix = "error:"

	statusErrorNotFound    = statusErrorPrefix + "not_found"
	statusErrorRateLimited = statusErrorPrefix + "rate_limited"
	statusErrorClientError = statusErrorPrefix + "client_error"
	statusErrorServerError = statusErrorPrefix + "server_error"
	statusErrorHTTPOther   = statusErrorPrefix + "http_other"
	statusErrorUnavailable = statusErrorPrefix + "unavailable"
	statusErrorCanceled    = statusErrorPrefix + "canceled"
	statusErrorTimeout     = statusErrorPrefix + "timeout"
	statusErrorOther       = statusErrorPrefix + "other"
)

type metrics struct {
	requestDuration   *prometheus.HistogramVec
	libraryFailures   *prometheus.CounterVec
	resolvedAddresses prometheus.Counter
	mergedFunctions   prometheus.Counter

	updatesSubmitted prometheus.Counter
	updatesDropped   prometheus.Counter
	updatesPending   prometheus.Gauge
	flushes          *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "profiletree_symbolication_request_duration_seconds",
			Help:    "Time spent resolving the addresses of a library by status",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"status"}),
		libraryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profiletree_symbolication_library_failures_total",
			Help: "Libraries that could not be symbolicated by status",
		}, []string{"status"}),
		resolvedAddresses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profiletree_symbolication_resolved_addresses_total",
			Help: "Addresses resolved to a function name",
		}),
		mergedFunctions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profiletree_symbolication_merged_functions_total",
			Help: "Address functions merged into another function of the same name",
		}),
		updatesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profiletree_symbolication_updates_submitted_total",
			Help: "Updates submitted to the coalescer",
		}),
		updatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profiletree_symbolication_updates_dropped_total",
			Help: "Updates dropped because their profile generation is no longer current",
		}),
		updatesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiletree_symbolication_updates_pending",
			Help: "Updates waiting for the next flush",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profiletree_symbolication_flushes_total",
			Help: "Coalescer flushes by trigger",
		}, []string{"trigger"}),
	}
	if reg != nil {
		m.requestDuration = util.RegisterOrGet(reg, m.requestDuration)
		m.libraryFailures = util.RegisterOrGet(reg, m.libraryFailures)
		m.resolvedAddresses = util.RegisterOrGet(reg, m.resolvedAddresses)
		m.mergedFunctions = util.RegisterOrGet(reg, m.mergedFunctions)
		m.updatesSubmitted = util.RegisterOrGet(reg, m.updatesSubmitted)
		m.updatesDropped = util.RegisterOrGet(reg, m.updatesDropped)
		m.updatesPending = util.RegisterOrGet(reg, m.updatesPending)
		m.flushes = util.RegisterOrGet(reg, m.flushes)
	}
	return m
}

func errorStatus(err error) string {
	switch {
	case err == nil:
		return statusSuccess
	case errors.Is(err, context.Canceled):
		return statusErrorCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return statusErrorTimeout
	case IsLibraryNotFound(err):
		return statusErrorNotFound
	case isUnavailable(err):
		return statusErrorUnavailable
	}
	if code, ok := isHTTPStatusError(err); ok {
		return categorizeHTTPStatusCode(code)
	}
	return statusErrorOther
}

func categorizeHTTPStatusCode(code int) string {
	switch {
	case code == http.StatusNotFound:
		return statusErrorNotFound
	case code == http.StatusTooManyRequests:
		return statusErrorRateLimited
	case code >= 400 && code < 500:
		return statusErrorClientError
	case code >= 500:
		return statusErrorServerError
	default:
		return statusErrorHTTPOther
	}
}
