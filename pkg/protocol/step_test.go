package protocol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

func TestDrive(t *testing.T) {
	t.Run("全部步骤继续", func(t *testing.T) {
		var order []int
		out := drive(
			func() StepOutcome { order = append(order, 1); return next },
			func() StepOutcome { order = append(order, 2); return next },
		)
		assert.Equal(t, Continue, out.Outcome)
		assert.Equal(t, []int{1, 2}, order)
	})

	t.Run("正常结束后不再执行后续步骤", func(t *testing.T) {
		called := false
		out := drive(
			func() StepOutcome { return done },
			func() StepOutcome { called = true; return next },
		)
		assert.Equal(t, StopClean, out.Outcome)
		assert.False(t, called)
	})

	t.Run("错误结束携带原因", func(t *testing.T) {
		out := drive(func() StepOutcome { return fail(errors.ErrFrameInvalid, "长度错误 %d", 3) })
		assert.Equal(t, StopError, out.Outcome)
		require.Error(t, out.Reason)
		assert.True(t, errors.IsErrCode(out.Reason, errors.ErrFrameInvalid))
		assert.Contains(t, out.Reason.Error(), "长度错误 3")
	})
}

func TestRepeat(t *testing.T) {
	t.Run("正常结束视为继续", func(t *testing.T) {
		n := 0
		out := repeat(func() StepOutcome {
			n++
			if n == 3 {
				return done
			}
			return next
		})()
		assert.Equal(t, Continue, out.Outcome)
		assert.Equal(t, 3, n)
	})

	t.Run("错误结束向上传递", func(t *testing.T) {
		out := repeat(func() StepOutcome { return fail(errors.ErrBoundsViolation, "越界") })()
		assert.Equal(t, StopError, out.Outcome)
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "Continue", Continue.String())
	assert.Equal(t, "StopClean", StopClean.String())
	assert.Equal(t, "StopError", StopError.String())
	assert.Equal(t, "Unknown", Outcome(9).String())
}

func TestSequenceGenerator(t *testing.T) {
	t.Run("取值0到15循环", func(t *testing.T) {
		g := NewSequenceGenerator(14)
		assert.Equal(t, uint8(14), g.Next())
		assert.Equal(t, uint8(15), g.Next())
		assert.Equal(t, uint8(0), g.Next())
		assert.Equal(t, uint8(1), g.Peek())
	})

	t.Run("初始值取低4位", func(t *testing.T) {
		g := NewSequenceGenerator(0x23)
		assert.Equal(t, uint8(3), g.Peek())
		g.Reset(0xFF)
		assert.Equal(t, uint8(15), g.Next())
	})

	t.Run("独立生成器互不影响", func(t *testing.T) {
		a, b := NewSequenceGenerator(0), NewSequenceGenerator(0)
		a.Next()
		a.Next()
		assert.Equal(t, uint8(0), b.Next())
		assert.Equal(t, uint8(2), a.Peek())
	})

	t.Run("并发分配", func(t *testing.T) {
		g := NewSequenceGenerator(0)
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			counts [16]int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 32; j++ {
					v := g.Next()
					mu.Lock()
					counts[v]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		// 256次分配在16个序号上均匀分布
		for v, c := range counts {
			assert.Equal(t, 16, c, "序号 %d", v)
		}
		assert.Equal(t, uint8(0), g.Peek())
	})
}
