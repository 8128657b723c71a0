package backend

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Weight file errors.
var (
	// ErrWeightsCorrupt is returned when a model structure file fails to
	// parse or the weights blob is empty.
	ErrWeightsCorrupt = errors.New("backend: corrupt model weights")
)

// paramMagic is the magic number on the first line of a .param file.
const paramMagic = 7767517

// CheckWeights validates a model's .param/.bin pair and returns the layer
// count declared by the structure file. Every backend runs this before
// loading so that a corrupt model fails the same way regardless of where
// inference runs.
func CheckWeights(paramPath, binPath string) (layers int, err error) {
	f, err := os.Open(paramPath) //nolint:gosec // model dir is caller-controlled
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, fmt.Errorf("%w: %s: empty param file", ErrWeightsCorrupt, paramPath)
	}
	magic, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || magic != paramMagic {
		return 0, fmt.Errorf("%w: %s: bad magic %q", ErrWeightsCorrupt, paramPath, sc.Text())
	}

	if !sc.Scan() {
		return 0, fmt.Errorf("%w: %s: missing layer counts", ErrWeightsCorrupt, paramPath)
	}
	fields := strings.Fields(sc.Text())
	if len(fields) != 2 {
		return 0, fmt.Errorf("%w: %s: bad layer count line %q", ErrWeightsCorrupt, paramPath, sc.Text())
	}
	layers, err = strconv.Atoi(fields[0])
	if err != nil || layers <= 0 {
		return 0, fmt.Errorf("%w: %s: bad layer count %q", ErrWeightsCorrupt, paramPath, fields[0])
	}

	info, err := os.Stat(binPath)
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s: empty weights blob", ErrWeightsCorrupt, binPath)
	}

	return layers, nil
}
