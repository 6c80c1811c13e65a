//go:build cgo

package gemmbatch

// This file registers the netlib BLAS implementation, which routes the
// per-batch Sgemm through system BLAS (Accelerate on macOS, OpenBLAS on
// Linux) when cgo is available.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas32.Use(netlib.Implementation{})
	log.Debug().Msg("cgo BLAS acceleration enabled (netlib)")
}
