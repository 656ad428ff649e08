// Package temporal implements the execution core's engine.Engine
// interface backed by Temporal (https://temporal.io). It lets the
// orchestrator drive stream execution and scatter branches as durable
// workflows without importing the Temporal SDK outside this package.
//
// # Why Temporal?
//
// A DAG execution can run for hours: scatter branches fan out across
// many workers, do-while loops re-enter the same stream dozens of
// times, and a task may need to await an external signal. Temporal
// ensures that state survives process restarts and network failures
// by replaying a workflow from its event history rather than keeping
// it in memory.
//
// # Constructing an Engine
//
//	eng, err := temporal.New(temporal.Options{
//	    ClientOptions: &client.Options{
//	        HostPort:  "temporal:7233",
//	        Namespace: "default",
//	    },
//	    WorkerOptions: temporal.WorkerOptions{
//	        TaskQueue: "flowcore.execution",
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// # Worker vs Client Mode
//
// The same Engine can start workflows (client mode, used by the
// orchestrator API) and execute them (worker mode, used by the
// execution worker process). A process that only starts workflows can
// set DisableWorkerAutoStart and never call Worker().Start().
//
// # Workflow Determinism
//
// Stream-execution workflows must be deterministic given the same
// input and event history. WorkflowContext exposes only deterministic
// operations: Now() returns workflow time, ExecuteActivity/Async
// schedule action-runner activities, and SignalChannel receives
// external control signals (pause/resume/cancel) deterministically.
// The sandboxed action runner itself executes inside an activity,
// which is unconstrained by determinism.
package temporal
