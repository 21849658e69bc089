package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docshot/quad"
)

func TestPreviewScale(t *testing.T) {
	assert.InDelta(t, 1.0, previewScale(640), 1e-9)
	assert.InDelta(t, 1.0, previewScale(maxPreviewWidth), 1e-9)
	assert.InDelta(t, 0.5, previewScale(2*maxPreviewWidth), 1e-9)
	assert.InDelta(t, float64(maxPreviewWidth)/1920, previewScale(1920), 1e-9)
}

func TestRouteFor(t *testing.T) {
	q := quad.Inset(400, 300, 0.1)

	assert.Equal(t, routeManualPlacement, routeFor(nil, 0))
	assert.Equal(t, routeSuppressed, routeFor(&q, 0.2))
	assert.Equal(t, routeManualAdjust, routeFor(&q, 0.5))
	assert.Equal(t, routeAutoCapture, routeFor(&q, 0.8))
}
