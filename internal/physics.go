package internal

import "math"

// 物理常數：場地歸一化為 [0,1]×[0,1]，所有尺寸與速度都是場地比例
const (
	// 球拍的垂直長度（約場地高度的 1/6）
	paddleHeight = 0.1667

	// 左右球拍的碰撞面 x 座標
	leftPaddleX  = 0.0458
	rightPaddleX = 0.9542

	// 發球初速（vx、vy 各自獨立取 ±initialSpeed）
	initialSpeed = 0.005

	// 每次球拍碰撞的加速增量與速度上限
	speedIncrement = 0.0005
	maxSpeed       = 0.01

	// 每次輸入的球拍移動步長
	paddleStep = 0.0167

	// 球的尺寸，發球重置時讓球心落在場地正中
	ballSize = 0.0167
)

// advanceBall 推進球一個 tick，返回得分方（無得分時為空字串）
//
// 單一 tick 的處理順序：
//  1. 先看 nextX 是否離場：離場即這一 tick 轉為得分處理，
//     球從哪一側離場，遠離該側的一方得分（右側離場 → 左方得分）
//  2. nextY 離場則反射 vy（牆壁反彈）
//  3. 球觸及球拍碰撞面且 nextY 落在該球拍的垂直範圍內：
//     反射 vx 並加速（|vx|、|vy| 各加一個增量，只在低於上限時生效）
//  4. 以（可能已反彈 / 加速的）速度產生新位置
//
// 得分 tick 不移動球：位置重置交由引擎的發球流程處理。
func advanceBall(b *Ball, paddles PaddleState) Side {
	nextX := b.X + b.VX
	if nextX < 0 {
		return SideRight
	}
	if nextX > 1 {
		return SideLeft
	}

	nextY := b.Y + b.VY
	if nextY < 0 || nextY > 1 {
		b.VY = -b.VY
		nextY = b.Y + b.VY
	}

	if b.VX < 0 && nextX <= leftPaddleX &&
		nextY >= paddles.Left && nextY <= paddles.Left+paddleHeight {
		b.VX = -b.VX
		accelerate(b)
	} else if b.VX > 0 && nextX >= rightPaddleX &&
		nextY >= paddles.Right && nextY <= paddles.Right+paddleHeight {
		b.VX = -b.VX
		accelerate(b)
	}

	b.X += b.VX
	b.Y += b.VY
	return ""
}

// accelerate 球拍碰撞後加速，|vx|、|vy| 各加一個增量，封頂 maxSpeed
func accelerate(b *Ball) {
	b.VX = bumpSpeed(b.VX)
	b.VY = bumpSpeed(b.VY)
}

func bumpSpeed(v float64) float64 {
	magnitude := math.Abs(v)
	if magnitude >= maxSpeed {
		return v
	}
	magnitude = math.Min(magnitude+speedIncrement, maxSpeed)
	return math.Copysign(magnitude, v)
}

// clampPaddle 球拍偏移限制在 [0, 1-paddleHeight]
func clampPaddle(offset float64) float64 {
	if offset < 0 {
		return 0
	}
	if offset > 1-paddleHeight {
		return 1 - paddleHeight
	}
	return offset
}
