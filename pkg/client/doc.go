/*
Package client is a small HTTP client for the tinymistd admin API.

The CLI uses it to talk to a daemon started with `tinymistd serve`:

	c := client.NewClient("127.0.0.1:23600")
	info, err := c.RequestPreview("/work/thesis/main.typ")
	if err != nil {
		return err
	}
	fmt.Println(info.DataPort)

Every call is bounded by DefaultTimeout, except RequestPreview which may wait
for a preview server to boot and uses PreviewTimeout. Non-2xx replies are
returned as *APIError carrying the daemon's error message.
*/
package client
