package llmservice

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"knowledge-rag/internal/models"
)

var statusCodeRegex = regexp.MustCompile(`(?i)status(?: code)?[:= ]+(\d{3})`)

// ClassifyError maps a provider client error onto a dependency error kind.
// The langchaingo clients only expose the HTTP status inside the message, so
// the status is recovered from the text when present.
func ClassifyError(service string, err error) *models.DependencyError {
	if err == nil {
		return nil
	}
	var de *models.DependencyError
	if errors.As(err, &de) {
		return de
	}

	status := statusFromMessage(err.Error())
	switch {
	case status == 401 || status == 403:
		return models.NewDependencyError(service, models.KindAuthFailed, status, err)
	case status == 429:
		return models.NewDependencyError(service, models.KindRateLimited, status, err)
	case status == 408 || status >= 500:
		return models.NewDependencyError(service, models.KindUnavailable, status, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) {
		return models.NewDependencyError(service, models.KindUnavailable, status, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.NewDependencyError(service, models.KindUnavailable, status, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return models.NewDependencyError(service, models.KindRateLimited, status, err)
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "authentication"):
		return models.NewDependencyError(service, models.KindAuthFailed, status, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "overloaded"):
		return models.NewDependencyError(service, models.KindUnavailable, status, err)
	}
	return models.NewDependencyError(service, models.KindUnknown, status, err)
}

func statusFromMessage(msg string) int {
	m := statusCodeRegex.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}
