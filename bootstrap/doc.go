// Package bootstrap runs the filestore lifecycle: validate config, start
// components, run a task until it returns or a signal arrives, then stop
// components in reverse order.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(storageComponent)
//	err = app.RunTask(ctx, func(ctx context.Context) error {
//	    return upload(ctx)
//	})
package bootstrap
