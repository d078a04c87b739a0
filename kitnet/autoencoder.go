// Package kitnet implements a streaming ensemble of small autoencoders that
// scores enriched connection events for anomalies. One autoencoder covers one
// overlapping slice of the feature vector; the ensemble score is the worst
// reconstruction across the slices.
package kitnet

import (
	"math"
	"math/rand"
)

// autoencoder is a single-hidden-layer tanh autoencoder trained online with
// plain SGD, one step per sample.
type autoencoder struct {
	// Indices selects this autoencoder's slice of the full feature vector
	Indices []int `json:"indices"`

	// EncoderWeights is hidden x input, DecoderWeights is input x hidden
	EncoderWeights [][]float64 `json:"encoder_weights"`
	EncoderBias    []float64   `json:"encoder_bias"`
	DecoderWeights [][]float64 `json:"decoder_weights"`
	DecoderBias    []float64   `json:"decoder_bias"`

	LearningRate float64 `json:"learning_rate"`
}

const (
	weightInitSigma     = 0.1
	defaultLearningRate = 0.01
)

func newAutoencoder(indices []int, rng *rand.Rand) *autoencoder {
	inputSize := len(indices)
	hiddenSize := inputSize / 2
	if hiddenSize < 1 {
		hiddenSize = 1
	}

	ae := &autoencoder{
		Indices:        indices,
		EncoderWeights: gaussianMatrix(hiddenSize, inputSize, rng),
		EncoderBias:    make([]float64, hiddenSize),
		DecoderWeights: gaussianMatrix(inputSize, hiddenSize, rng),
		DecoderBias:    make([]float64, inputSize),
		LearningRate:   defaultLearningRate,
	}
	return ae
}

func gaussianMatrix(rows, cols int, rng *rand.Rand) [][]float64 {
	matrix := make([][]float64, rows)
	for i := range matrix {
		matrix[i] = make([]float64, cols)
		for j := range matrix[i] {
			matrix[i][j] = rng.NormFloat64() * weightInitSigma
		}
	}
	return matrix
}

// slice projects the full standardized vector down to this autoencoder's
// assigned indices.
func (a *autoencoder) slice(full []float64) []float64 {
	input := make([]float64, len(a.Indices))
	for i, idx := range a.Indices {
		input[i] = full[idx]
	}
	return input
}

// forward runs one pass and returns the hidden activation and reconstruction
func (a *autoencoder) forward(input []float64) (hidden, output []float64) {
	hidden = make([]float64, len(a.EncoderBias))
	for i := range hidden {
		sum := a.EncoderBias[i]
		for j, v := range input {
			sum += a.EncoderWeights[i][j] * v
		}
		hidden[i] = math.Tanh(sum)
	}

	output = make([]float64, len(a.DecoderBias))
	for i := range output {
		sum := a.DecoderBias[i]
		for j, h := range hidden {
			sum += a.DecoderWeights[i][j] * h
		}
		output[i] = math.Tanh(sum)
	}
	return hidden, output
}

// reconstructionError returns the mean-squared error between the input slice
// and its reconstruction.
func (a *autoencoder) reconstructionError(input []float64) float64 {
	_, output := a.forward(input)
	return meanSquaredError(input, output)
}

// trainStep performs one SGD step on the reconstruction loss and returns the
// pre-update loss.
func (a *autoencoder) trainStep(input []float64) float64 {
	hidden, output := a.forward(input)
	loss := meanSquaredError(input, output)

	n := float64(len(input))

	// output layer delta: dL/dz through the tanh derivative
	outputDelta := make([]float64, len(output))
	for i := range output {
		outputDelta[i] = (2 * (output[i] - input[i]) / n) * (1 - output[i]*output[i])
	}

	// hidden layer delta, backpropagated through the decoder
	hiddenDelta := make([]float64, len(hidden))
	for j := range hidden {
		var sum float64
		for i := range output {
			sum += outputDelta[i] * a.DecoderWeights[i][j]
		}
		hiddenDelta[j] = sum * (1 - hidden[j]*hidden[j])
	}

	for i := range output {
		for j := range hidden {
			a.DecoderWeights[i][j] -= a.LearningRate * outputDelta[i] * hidden[j]
		}
		a.DecoderBias[i] -= a.LearningRate * outputDelta[i]
	}
	for j := range hidden {
		for k := range input {
			a.EncoderWeights[j][k] -= a.LearningRate * hiddenDelta[j] * input[k]
		}
		a.EncoderBias[j] -= a.LearningRate * hiddenDelta[j]
	}

	return loss
}

func meanSquaredError(want, got []float64) float64 {
	var sum float64
	for i := range want {
		diff := got[i] - want[i]
		sum += diff * diff
	}
	return sum / float64(len(want))
}
