package onnx

import "math"

func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	hi := logits[0]
	for _, v := range logits[1:] {
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(float64(v - hi))
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(probs []float64) int {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best
}
