package model

import (
	"fmt"
	"math"
)

// Game はカタログに登録されたゲーム1件を表す。
// IDはストアが採番し、作成後は変更されない。
type Game struct {
	ID       int64   `json:"id" validate:"gt=0"`
	Name     string  `json:"name" validate:"required"`
	Genre    string  `json:"genre" validate:"required"`
	Platform string  `json:"platform" validate:"required"`
	Year     int     `json:"year" validate:"required"`
	Rating   float64 `json:"rating" validate:"finite"`
}

// GameInput はID以外の全フィールドを持つ作成・更新用ペイロード。
// 更新は常にレコード全体の置き換えとして扱う。
type GameInput struct {
	Name     string  `json:"name" validate:"required"`
	Genre    string  `json:"genre" validate:"required"`
	Platform string  `json:"platform" validate:"required"`
	Year     int     `json:"year" validate:"required"`
	Rating   float64 `json:"rating" validate:"finite"`
}

// Input はGameからIDを除いたペイロードを返す。
func (g Game) Input() GameInput {
	return GameInput{
		Name:     g.Name,
		Genre:    g.Genre,
		Platform: g.Platform,
		Year:     g.Year,
		Rating:   g.Rating,
	}
}

// WithID はペイロードにIDを付与したGameを返す。
func (in GameInput) WithID(id int64) Game {
	return Game{
		ID:       id,
		Name:     in.Name,
		Genre:    in.Genre,
		Platform: in.Platform,
		Year:     in.Year,
		Rating:   in.Rating,
	}
}

// RoundToNearestTenth は評価値を小数第1位に丸める。
func RoundToNearestTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// DisplayRating は表示用に小数第1位まで丸めた評価値を返す。
// 例: 7.04 → "7.0"
func (g Game) DisplayRating() string {
	return fmt.Sprintf("%.1f", RoundToNearestTenth(g.Rating))
}
