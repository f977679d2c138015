package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAdvanceBall_PaddleBounce 測試球拍反彈與加速
func TestAdvanceBall_PaddleBounce(t *testing.T) {
	tests := []struct {
		name     string
		ball     Ball
		paddles  PaddleState
		validate func(t *testing.T, b Ball, scored Side)
	}{
		{
			name:    "left paddle bounce reverses vx and accelerates",
			ball:    Ball{X: 0.05, Y: 0.3, VX: -0.005, VY: 0.005},
			paddles: PaddleState{Left: 0.25, Right: 0.25},
			validate: func(t *testing.T, b Ball, scored Side) {
				assert.Empty(t, scored)
				assert.InDelta(t, 0.0055, b.VX, 1e-9)
				assert.InDelta(t, 0.0055, b.VY, 1e-9)
				assert.Greater(t, b.X, 0.05)
			},
		},
		{
			// 球在同一 tick 內已越過碰撞面（x 已小於面座標）也要反彈，
			// 不能讓球穿拍而過
			name:    "ball past the plane still bounces",
			ball:    Ball{X: 0.04, Y: 0.3, VX: -0.005, VY: 0.005},
			paddles: PaddleState{Left: 0.25, Right: 0.25},
			validate: func(t *testing.T, b Ball, scored Side) {
				assert.Empty(t, scored)
				assert.InDelta(t, 0.0055, b.VX, 1e-9)
			},
		},
		{
			name:    "right paddle bounce",
			ball:    Ball{X: 0.95, Y: 0.3, VX: 0.005, VY: -0.005},
			paddles: PaddleState{Left: 0.25, Right: 0.25},
			validate: func(t *testing.T, b Ball, scored Side) {
				assert.Empty(t, scored)
				assert.InDelta(t, -0.0055, b.VX, 1e-9)
				assert.InDelta(t, -0.0055, b.VY, 1e-9)
			},
		},
		{
			// 垂直範圍之外：不反彈，球繼續前進
			name:    "miss the paddle vertically",
			ball:    Ball{X: 0.05, Y: 0.8, VX: -0.005, VY: 0.005},
			paddles: PaddleState{Left: 0.25, Right: 0.25},
			validate: func(t *testing.T, b Ball, scored Side) {
				assert.Empty(t, scored)
				assert.InDelta(t, -0.005, b.VX, 1e-9)
				assert.Less(t, b.X, 0.05)
			},
		},
		{
			// 速度封頂：|vx| 已達上限就不再增加
			name:    "speed capped at maximum",
			ball:    Ball{X: 0.05, Y: 0.3, VX: -0.01, VY: 0.0098},
			paddles: PaddleState{Left: 0.25, Right: 0.25},
			validate: func(t *testing.T, b Ball, scored Side) {
				assert.Empty(t, scored)
				assert.InDelta(t, 0.01, b.VX, 1e-9)
				assert.InDelta(t, 0.01, b.VY, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.ball
			scored := advanceBall(&b, tt.paddles)
			tt.validate(t, b, scored)
		})
	}
}

// TestAdvanceBall_Scoring 測試離場得分：右側離場左方得分，反之亦然
func TestAdvanceBall_Scoring(t *testing.T) {
	tests := []struct {
		name     string
		ball     Ball
		expected Side
	}{
		{
			name:     "exit right scores left",
			ball:     Ball{X: 0.997, Y: 0.5, VX: 0.005, VY: 0.005},
			expected: SideLeft,
		},
		{
			name:     "exit left scores right",
			ball:     Ball{X: 0.003, Y: 0.5, VX: -0.005, VY: 0.005},
			expected: SideRight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.ball
			scored := advanceBall(&b, PaddleState{Left: 0.25, Right: 0.25})
			assert.Equal(t, tt.expected, scored)
			// 得分 tick 不移動球
			assert.Equal(t, tt.ball.X, b.X)
			assert.Equal(t, tt.ball.Y, b.Y)
		})
	}
}

// TestAdvanceBall_WallBounce 測試上下牆反彈
func TestAdvanceBall_WallBounce(t *testing.T) {
	b := Ball{X: 0.5, Y: 0.002, VX: 0.005, VY: -0.005}
	scored := advanceBall(&b, PaddleState{Left: 0.25, Right: 0.25})

	assert.Empty(t, scored)
	assert.InDelta(t, 0.005, b.VY, 1e-9)
	assert.InDelta(t, 0.007, b.Y, 1e-9)

	b = Ball{X: 0.5, Y: 0.998, VX: 0.005, VY: 0.005}
	scored = advanceBall(&b, PaddleState{Left: 0.25, Right: 0.25})

	assert.Empty(t, scored)
	assert.InDelta(t, -0.005, b.VY, 1e-9)
	assert.InDelta(t, 0.993, b.Y, 1e-9)
}

// TestClampPaddle 測試球拍邊界夾緊
func TestClampPaddle(t *testing.T) {
	assert.Equal(t, 0.0, clampPaddle(-0.1))
	assert.Equal(t, 0.5, clampPaddle(0.5))
	assert.InDelta(t, 1-paddleHeight, clampPaddle(0.95), 1e-9)
}
