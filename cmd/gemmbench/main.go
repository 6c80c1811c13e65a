// Command gemmbench runs batched-multiply scenarios against the
// reference implementation and records timing to a JSON session log.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/makllama/gemmbatch"
)

func main() {
	var (
		m, n, k    int64
		batch2     int64
		batch3     int64
		ratio2     int64
		runs       int64
		logDir     string
		skipVerify bool
	)

	app := &cli.Command{
		Name:  "gemmbench",
		Usage: "Benchmark broadcast-aware batched matrix multiplication",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "m", Usage: "output rows per batch", Value: 64, Destination: &m},
			&cli.Int64Flag{Name: "n", Usage: "output cols per batch", Value: 64, Destination: &n},
			&cli.Int64Flag{Name: "k", Usage: "reduction dimension", Value: 64, Destination: &k},
			&cli.Int64Flag{Name: "batch2", Usage: "batch extent on dimension 2", Value: 8, Destination: &batch2},
			&cli.Int64Flag{Name: "batch3", Usage: "batch extent on dimension 3", Value: 1, Destination: &batch3},
			&cli.Int64Flag{Name: "ratio2", Usage: "broadcast ratio on dimension 2 (operand A holds batch2/ratio2 slices)", Value: 1, Destination: &ratio2},
			&cli.Int64Flag{Name: "runs", Usage: "timed runs", Value: 5, Destination: &runs},
			&cli.StringFlag{Name: "logdir", Usage: "benchmark session log directory", Value: "benchmark_logs", Destination: &logDir},
			&cli.BoolFlag{Name: "no-verify", Usage: "skip reference verification", Destination: &skipVerify},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runBench(scenario{
				m: int(m), n: int(n), k: int(k),
				batch2: int(batch2), batch3: int(batch3), ratio2: int(ratio2),
				runs: int(runs), logDir: logDir, verify: !skipVerify,
			})
		},
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type scenario struct {
	m, n, k                int
	batch2, batch3, ratio2 int
	runs                   int
	logDir                 string
	verify                 bool
}

func runBench(sc scenario) error {
	if sc.ratio2 <= 0 || sc.batch2%sc.ratio2 != 0 {
		return fmt.Errorf("ratio2 %d must divide batch2 %d", sc.ratio2, sc.batch2)
	}

	bl, err := gemmbatch.NewBenchmarkLogger(sc.logDir, "gemmbench")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("mulmat_%dx%dx%d_b%dx%d_r%d", sc.m, sc.n, sc.k, sc.batch2, sc.batch3, sc.ratio2)
	result, err := timeScenario(sc)
	if err != nil {
		_ = bl.Log(gemmbatch.BenchmarkResult{Name: name, Status: "fail", Error: err.Error()})
		return err
	}
	result.Name = name
	if err := bl.Log(result); err != nil {
		return err
	}

	log.Info().
		Str("scenario", name).
		Float64("gflops", result.GFlops).
		Str("session", bl.SessionFile()).
		Msg("benchmark complete")
	return nil
}

func timeScenario(sc scenario) (gemmbatch.BenchmarkResult, error) {
	ne23 := sc.batch2 * sc.batch3
	srcBatch2 := sc.batch2 / sc.ratio2

	src0, src0Buf, err := randomHalfTensor(sc.k, sc.m, srcBatch2, sc.batch3)
	if err != nil {
		return gemmbatch.BenchmarkResult{}, err
	}
	defer gemmbatch.Free(src0Buf)

	src1, src1Buf, err := randomFloatTensor(sc.k, sc.n, sc.batch2, sc.batch3)
	if err != nil {
		return gemmbatch.BenchmarkResult{}, err
	}
	defer gemmbatch.Free(src1Buf)

	dstBuf, err := gemmbatch.Malloc(sc.m * sc.n * ne23 * 4)
	if err != nil {
		return gemmbatch.BenchmarkResult{}, err
	}
	defer gemmbatch.Free(dstBuf)
	dst := gemmbatch.NewTensorView(dstBuf, gemmbatch.F32, sc.m, sc.n, sc.batch2, sc.batch3)

	// Warmup plus correctness check.
	if err := gemmbatch.MulMatBatched(src0, src1, dst, 1, 0); err != nil {
		return gemmbatch.BenchmarkResult{}, err
	}
	if sc.verify {
		if err := verifyAgainstReference(src0, src1, dst); err != nil {
			return gemmbatch.BenchmarkResult{}, err
		}
	}

	start := time.Now()
	for i := 0; i < sc.runs; i++ {
		if err := gemmbatch.MulMatBatched(src0, src1, dst, 1, 0); err != nil {
			return gemmbatch.BenchmarkResult{}, err
		}
	}
	elapsed := time.Since(start)

	perOp := elapsed / time.Duration(sc.runs)
	flops := 2 * float64(sc.m) * float64(sc.n) * float64(sc.k) * float64(ne23)
	return gemmbatch.BenchmarkResult{
		Status:   "pass",
		Batches:  ne23,
		GFlops:   flops / perOp.Seconds() / 1e9,
		NsPerOp:  float64(perOp.Nanoseconds()),
		Duration: elapsed,
	}, nil
}

func randomHalfTensor(ne0, ne1, ne2, ne3 int) (gemmbatch.TensorView, gemmbatch.DevicePtr, error) {
	n := ne0 * ne1 * ne2 * ne3
	host := make([]float32, n)
	for i := range host {
		host[i] = rand.Float32()*2 - 1
	}

	f32Buf, err := gemmbatch.Malloc(n * 4)
	if err != nil {
		return gemmbatch.TensorView{}, gemmbatch.DevicePtr{}, err
	}
	defer gemmbatch.Free(f32Buf)

	f16Buf, err := gemmbatch.Malloc(n * 2)
	if err != nil {
		return gemmbatch.TensorView{}, gemmbatch.DevicePtr{}, err
	}

	if err := gemmbatch.Memcpy(f32Buf, host, n*4, gemmbatch.MemcpyHostToDevice); err != nil {
		gemmbatch.Free(f16Buf)
		return gemmbatch.TensorView{}, gemmbatch.DevicePtr{}, err
	}
	gemmbatch.ConvertF32ToF16(f32Buf, f16Buf, n)

	return gemmbatch.NewTensorView(f16Buf, gemmbatch.F16, ne0, ne1, ne2, ne3), f16Buf, nil
}

func randomFloatTensor(ne0, ne1, ne2, ne3 int) (gemmbatch.TensorView, gemmbatch.DevicePtr, error) {
	n := ne0 * ne1 * ne2 * ne3
	host := make([]float32, n)
	for i := range host {
		host[i] = rand.Float32()*2 - 1
	}

	buf, err := gemmbatch.Malloc(n * 4)
	if err != nil {
		return gemmbatch.TensorView{}, gemmbatch.DevicePtr{}, err
	}
	if err := gemmbatch.Memcpy(buf, host, n*4, gemmbatch.MemcpyHostToDevice); err != nil {
		gemmbatch.Free(buf)
		return gemmbatch.TensorView{}, gemmbatch.DevicePtr{}, err
	}
	return gemmbatch.NewTensorView(buf, gemmbatch.F32, ne0, ne1, ne2, ne3), buf, nil
}

func verifyAgainstReference(src0, src1, dst gemmbatch.TensorView) error {
	n := dst.NumElements()
	wantBuf, err := gemmbatch.Malloc(n * 4)
	if err != nil {
		return err
	}
	defer gemmbatch.Free(wantBuf)

	want := dst
	want.Data = wantBuf
	if err := (gemmbatch.Reference{}).MulMatBatched(src0, src1, want, 1, 0); err != nil {
		return err
	}

	tol := gemmbatch.HalfTolerance()
	if err := tol.CompareSlices(dst.Data.Float32()[:n], want.Data.Float32()[:n]); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	return nil
}
