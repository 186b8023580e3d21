package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/clearance/internal/mocks"
)

func TestExpectedContent(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("present", func(t *testing.T) {
		page := new(mocks.MockQueryable)
		page.On("QuerySelector", mock.Anything, "#content").Return(new(mocks.MockElement), nil)

		assert.True(t, ExpectedContent(ctx, logger, page, "#content"))
		page.AssertNumberOfCalls(t, "QuerySelector", 1)
	})

	t.Run("absent", func(t *testing.T) {
		page := new(mocks.MockQueryable)
		page.On("QuerySelector", mock.Anything, "#content").Return(nil, nil)

		assert.False(t, ExpectedContent(ctx, logger, page, "#content"))
		page.AssertNumberOfCalls(t, "QuerySelector", 1)
	})

	t.Run("no selector issues no query", func(t *testing.T) {
		page := new(mocks.MockQueryable)

		assert.False(t, ExpectedContent(ctx, logger, page, ""))
		page.AssertNotCalled(t, "QuerySelector", mock.Anything, mock.Anything)
	})

	t.Run("query error reads as absent", func(t *testing.T) {
		frame := new(mocks.MockFrame)
		frame.On("QuerySelector", mock.Anything, "#content").Return(nil, errors.New("frame detached"))

		assert.False(t, ExpectedContent(ctx, logger, frame, "#content"))
	})

	t.Run("element receiver", func(t *testing.T) {
		container := new(mocks.MockElement)
		container.On("QuerySelector", mock.Anything, ".ok").Return(new(mocks.MockElement), nil)

		assert.True(t, ExpectedContent(ctx, logger, container, ".ok"))
	})
}

func TestSelectorsPresent(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	selectors := []string{"#a", "#b", "#c"}

	t.Run("short circuits on first match", func(t *testing.T) {
		page := new(mocks.MockQueryable)
		page.On("QuerySelector", mock.Anything, "#a").Return(nil, nil)
		page.On("QuerySelector", mock.Anything, "#b").Return(new(mocks.MockElement), nil)

		assert.True(t, SelectorsPresent(ctx, logger, page, selectors))
		page.AssertNumberOfCalls(t, "QuerySelector", 2)
		page.AssertNotCalled(t, "QuerySelector", mock.Anything, "#c")
	})

	t.Run("tries every selector before giving up", func(t *testing.T) {
		page := new(mocks.MockQueryable)
		page.On("QuerySelector", mock.Anything, mock.Anything).Return(nil, nil)

		assert.False(t, SelectorsPresent(ctx, logger, page, selectors))
		page.AssertNumberOfCalls(t, "QuerySelector", 3)
	})

	t.Run("errors fall through to the next selector", func(t *testing.T) {
		page := new(mocks.MockQueryable)
		page.On("QuerySelector", mock.Anything, "#a").Return(nil, errors.New("boom"))
		page.On("QuerySelector", mock.Anything, "#b").Return(nil, nil)
		page.On("QuerySelector", mock.Anything, "#c").Return(new(mocks.MockElement), nil)

		assert.True(t, SelectorsPresent(ctx, logger, page, selectors))
	})
}
