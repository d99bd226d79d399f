/*
Package config loads the daemon configuration and keeps it current.

Sources, later ones winning:

 1. built-in defaults (Default)
 2. the YAML file given with --config
 3. a .env file in the working directory
 4. TINYMISTD_* environment variables

Example file:

	binary_source: automatic        # or custom
	custom_binary_path: ""
	formatter: typstyle             # or typstfmt
	data_dir: ~/.local/share/tinymistd
	pool:
	  capacity: 5
	  start_port: 23627
	  boot_timeout: 5s
	readiness:
	  timeout: 15s
	api:
	  addr: 127.0.0.1:23600
	preview:
	  partial_rendering: true
	  invert_colors: {rest: always, image: never}

Store holds the loaded Config behind an atomic pointer. Snapshot returns the
binary settings and is what the location resolver reads on every call, so a
reload takes effect on the next resolution. Watch uses fsnotify on the file's
directory and reloads after a short quiet period; a file that fails to parse
or validate is logged and ignored.
*/
package config
