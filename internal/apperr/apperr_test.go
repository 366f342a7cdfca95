package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("name is required"), http.StatusBadRequest},
		{ErrAuth, http.StatusUnauthorized},
		{Forbidden("not a member"), http.StatusForbidden},
		{NotFound("conversation %s", "abc"), http.StatusNotFound},
		{Persistence("insert message", assert.AnError), http.StatusInternalServerError},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestPersistenceKeepsCause(t *testing.T) {
	err := Persistence("insert message", assert.AnError)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDeliveryErrorUnwrap(t *testing.T) {
	var err error = &DeliveryError{Channel: "a@x.com", Event: "conversation:new", Err: assert.AnError}
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorIs(t, err, assert.AnError)

	var de *DeliveryError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, "a@x.com", de.Channel)
}
