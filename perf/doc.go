// Package perf is the library entry point of surge: it runs a load test
// driven by a Go iteration function instead of a scenario file.
//
// # Quick Start
//
//	cfg := &perf.Config{Kind: perf.Constant, VUs: 10, Duration: 30 * time.Second}
//
//	iterate := func(ctx context.Context, it *perf.Iteration) error {
//	    resp, err := it.HTTP.Get(ctx, it.HTTP.URL("/health"), perf.RequestOptions{Name: "health"})
//	    if err != nil {
//	        return err
//	    }
//	    it.Check("status is 200", resp.Status == 200)
//	    return nil
//	}
//
//	thresholds, _ := perf.Thresholds(map[string][]string{
//	    "http_req_duration": {"p(95)<500"},
//	    "checks":            {"rate>0.99"},
//	})
//
//	result, err := perf.Run(ctx, cfg, iterate, perf.Hooks{},
//	    perf.WithBaseURL("http://localhost:8080"),
//	    perf.WithThresholds(thresholds),
//	)
//	fmt.Println("passed:", result.Passed)
//
// Each virtual user runs iterate in a loop until the executor drains it.
// Samples recorded through it.HTTP, it.Check and it.Record are aggregated
// into metrics, and thresholds are evaluated against them when the run
// ends. Thresholds marked abort-on-fail are also evaluated while the test
// runs and stop it early when breached.
//
// # Hooks
//
// Hooks.Setup runs once before any VU starts; its return value is handed
// to every iteration as it.Data and to Hooks.Teardown. A setup error
// fails the run with an error wrapping ErrSetupFailed and no VU is
// started.
package perf
