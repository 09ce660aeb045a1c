package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func TestClassify(t *testing.T) {
	alive := context.Background()

	testCases := []struct {
		name     string
		err      error
		wantCode schemas.ErrorCode
		session  bool
	}{
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), schemas.ErrCodeTimeout, false},
		{"canceled", context.Canceled, schemas.ErrCodeExecutionFailure, false},
		{"dns failure", errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), schemas.ErrCodeNavigation, false},
		{"bad selector", errors.New("exception \"Uncaught\" (0:0): SyntaxError: '##' is not a valid selector"), schemas.ErrCodeInvalidParameters, false},
		{"missing node", errors.New("could not find node with given id (-32000)"), schemas.ErrCodeElementNotFound, false},
		{"detached", errors.New("Node is detached from document"), schemas.ErrCodeDetachedPage, false},
		{"other", errors.New("something odd"), schemas.ErrCodeExecutionFailure, false},
		{"target closed", errors.New("read: target closed"), "", true},
		{"socket gone", errors.New("write tcp: use of closed network connection"), "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(alive, schemas.ActionClick, tc.err)
			if tc.session {
				var sessionErr *schemas.SessionError
				require.ErrorAs(t, err, &sessionErr)
				assert.Equal(t, "click", sessionErr.Op)
				return
			}
			var actionErr *schemas.ActionError
			require.ErrorAs(t, err, &actionErr)
			assert.Equal(t, tc.wantCode, actionErr.Code)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClassifyDeadSession(t *testing.T) {
	dead, cancel := context.WithCancel(context.Background())
	cancel()

	err := classify(dead, schemas.ActionNavigate, context.Canceled)
	var sessionErr *schemas.SessionError
	assert.ErrorAs(t, err, &sessionErr)
}

func TestClassifyPassesTaxonomyThrough(t *testing.T) {
	original := elementNotFound(schemas.ActionType, "#missing")
	assert.Same(t, original, classify(context.Background(), schemas.ActionType, original))
	assert.Nil(t, classify(context.Background(), schemas.ActionType, nil))
}
