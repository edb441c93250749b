package service

import (
	"math"
	"strings"

	"speaking_backend/internal/model"
)

// 官方口语评分档位：第 5 部分（表达观点）为 0-5 档，其余为 0-3 档
const (
	maxRawBandStandard = 3
	maxRawBandOpinion  = 5
)

func isOpinionPart(partCode string) bool {
	return strings.ToUpper(strings.TrimSpace(partCode)) == model.PartExpressOpinion
}

// ToRawBand 将百分制分数映射为该部分的官方原始分档，未知部分按 0-3 档处理
func ToRawBand(score100 float64, partCode string) int {
	if isOpinionPart(partCode) {
		return toSixBand(score100)
	}
	return toFourBand(score100)
}

func toFourBand(score100 float64) int {
	switch {
	case score100 <= 16.67:
		return 0
	case score100 <= 50:
		return 1
	case score100 <= 83:
		return 2
	default:
		return 3
	}
}

func toSixBand(score100 float64) int {
	switch {
	case score100 <= 10:
		return 0
	case score100 <= 30:
		return 1
	case score100 <= 50:
		return 2
	case score100 <= 70:
		return 3
	case score100 <= 90:
		return 4
	default:
		return 5
	}
}

// MaxRawBand 该部分的最高原始分档
func MaxRawBand(partCode string) int {
	if isOpinionPart(partCode) {
		return maxRawBandOpinion
	}
	return maxRawBandStandard
}

// EarnedScore (rawBand / maxRawBand) × questionWeight，保留两位小数
func EarnedScore(score100 float64, partCode string, questionWeight int) float64 {
	raw := ToRawBand(score100, partCode)
	ratio := float64(raw) / float64(MaxRawBand(partCode))
	return math.Round(ratio*float64(questionWeight)*100) / 100
}
