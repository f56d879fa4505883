/*
Package platform is the boundary between the orchestrator and the
orchestration platform that actually runs the workloads.

The Driver interface is deliberately small: apply a deployment, read its
rollout status, scale it, delete it, and read or patch the selector of the
fronting service. The platform supplies the hard parts (pod lifecycle,
endpoint routing, in-cluster health probes); Greenlight only sequences these
primitives.

Two implementations:

  - ExecDriver shells out to a kubectl-compatible CLI. The contract with the
    child process is exit code plus JSON output; each invocation runs under
    its own timeout. Rollout readiness is derived from the deployment object
    the same way kubectl's rollout status is (observed generation, updated
    and available replica counts, progress-deadline condition).

  - FakeDriver keeps everything in memory with test-controlled readiness,
    so the release state machine can be exercised without a cluster.
*/
package platform
