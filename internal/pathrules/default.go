package pathrules

// runtimeMountPaths are the bind-mount sources container runtimes use on
// their own: storage drivers, sandboxes, cgroup hierarchies and the pty
// device. Restricted containers get only these.
var runtimeMountPaths = []string{
	"/dev/pts",

	"/var/lib/containers/storage",
	"/var/lib/docker/aufs",
	"/var/lib/docker/btrfs",
	"/var/lib/docker/devmapper",
	"/var/lib/docker/overlay",
	"/var/lib/docker/overlay2",
	"/var/lib/docker/vfs",
	"/var/lib/docker/zfs",
	"/var/lib/docker/containers",
	"/var/run/container",
	"/run/containerd/io.containerd.runtime.v1.linux",
	"/run/containerd/io.containerd.runtime.v2.task",
	"/run/containerd/io.containerd.grpc.v1.cri/sandboxes",
	"/var/lib/containerd/io.containerd.grpc.v1.cri/sandboxes",
	"/var/lib/kubelet/pods",

	"/sys/fs/cgroup/misc",
	"/sys/fs/cgroup/rdma",
	"/sys/fs/cgroup/blkio/machine.slice",
	"/sys/fs/cgroup/cpu,cpuacct/machine.slice",
	"/sys/fs/cgroup/cpuset/machine.slice",
	"/sys/fs/cgroup/devices/machine.slice",
	"/sys/fs/cgroup/freezer/machine.slice",
	"/sys/fs/cgroup/hugetlb/machine.slice",
	"/sys/fs/cgroup/memory/machine.slice",
	"/sys/fs/cgroup/net_cls,net_prio/machine.slice",
	"/sys/fs/cgroup/perf_event/machine.slice",
	"/sys/fs/cgroup/pids/machine.slice",
	"/sys/fs/cgroup/systemd/machine.slice",
	"/sys/fs/cgroup/unified/machine.slice",
	"/sys/fs/cgroup/blkio/kubepods.slice",
	"/sys/fs/cgroup/cpu,cpuacct/kubepods.slice",
	"/sys/fs/cgroup/cpuset/kubepods.slice",
	"/sys/fs/cgroup/devices/kubepods.slice",
	"/sys/fs/cgroup/freezer/kubepods.slice",
	"/sys/fs/cgroup/hugetlb/kubepods.slice",
	"/sys/fs/cgroup/memory/kubepods.slice",
	"/sys/fs/cgroup/net_cls,net_prio/kubepods.slice",
	"/sys/fs/cgroup/perf_event/kubepods.slice",
	"/sys/fs/cgroup/pids/kubepods.slice",
	"/sys/fs/cgroup/systemd/kubepods.slice",
	"/sys/fs/cgroup/unified/kubepods.slice",
	"/sys/fs/cgroup/blkio/kubepods-besteffort",
	"/sys/fs/cgroup/cpu,cpuacct/kubepods-besteffort",
	"/sys/fs/cgroup/cpuset/kubepods-besteffort",
	"/sys/fs/cgroup/devices/kubepods-besteffort",
	"/sys/fs/cgroup/freezer/kubepods-besteffort",
	"/sys/fs/cgroup/hugetlb/kubepods-besteffort",
	"/sys/fs/cgroup/memory/kubepods-besteffort",
	"/sys/fs/cgroup/net_cls,net_prio/kubepods-besteffort",
	"/sys/fs/cgroup/perf_event/kubepods-besteffort",
	"/sys/fs/cgroup/pids/kubepods-besteffort",
	"/sys/fs/cgroup/systemd/kubepods-besteffort",
	"/sys/fs/cgroup/unified/kubepods-besteffort",
	"/sys/fs/cgroup/blkio/system.slice/containerd.service",
	"/sys/fs/cgroup/cpu,cpuacct/system.slice/containerd.service",
	"/sys/fs/cgroup/cpuset/system.slice/containerd.service",
	"/sys/fs/cgroup/devices/system.slice/containerd.service",
	"/sys/fs/cgroup/freezer/system.slice/containerd.service",
	"/sys/fs/cgroup/hugetlb/system.slice/containerd.service",
	"/sys/fs/cgroup/memory/system.slice/containerd.service",
	"/sys/fs/cgroup/net_cls,net_prio/system.slice/containerd.service",
	"/sys/fs/cgroup/perf_event/system.slice/containerd.service",
	"/sys/fs/cgroup/pids/system.slice/containerd.service",
	"/sys/fs/cgroup/systemd/system.slice/containerd.service",
	"/sys/fs/cgroup/unified/system.slice/containerd.service",
	"/sys/fs/cgroup/blkio/docker",
	"/sys/fs/cgroup/cpu,cpuacct/docker",
	"/sys/fs/cgroup/cpuset/docker",
	"/sys/fs/cgroup/devices/docker",
	"/sys/fs/cgroup/freezer/docker",
	"/sys/fs/cgroup/hugetlb/docker",
	"/sys/fs/cgroup/memory/docker",
	"/sys/fs/cgroup/net_cls,net_prio/docker",
	"/sys/fs/cgroup/perf_event/docker",
	"/sys/fs/cgroup/pids/docker",
	"/sys/fs/cgroup/systemd/docker",
	"/sys/fs/cgroup/unified/docker",
}

// userMountPaths may additionally be bind mounted (-v) into baseline
// containers.
var userMountPaths = []string{
	"/home",
	"/var/data",
}

// accessPaths are readable by restricted and baseline containers. The
// entries ending in ':' are the names of namespace and pipe pseudo-files.
var accessPaths = []string{
	"cgroup:",
	"ipc:",
	"mnt:",
	"net:",
	"pid:",
	"pipe:",
	"time:",
	"user:",
	"uts:",
	"/bin",
	"/dev/console",
	"/dev/full",
	"/dev/null",
	"/dev/pts",
	"/dev/tty",
	"/dev/urandom",
	"/dev/zero",
	"/etc",
	"/home",
	"/lib",
	"/lib64",
	"/pause",
	"/opt",
	"/proc",
	"/run",
	"/sys/fs/cgroup",
	"/sys/kernel/mm",
	"/tmp",
	"/usr",
	"/var",
}

// DefaultPatterns are used when no rules file exists.
var DefaultPatterns = Patterns{
	MountAllowRestricted: runtimeMountPaths,
	MountAllowBaseline:   concat(runtimeMountPaths, userMountPaths),
	OpenAllowRestricted:  accessPaths,
	OpenAllowBaseline:    accessPaths,
	OpenDenyRestricted: []string{
		"/proc/acpi",
		"/proc/sys",
		"/var/run/secrets/kubernetes.io",
	},
	OpenDenyBaseline: []string{
		"/proc/acpi",
		"/var/run/secrets/kubernetes.io",
	},
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
