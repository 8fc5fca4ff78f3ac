package cluster

import "github.com/sirupsen/logrus"

// logWarn emits a structured warning through the configured logger
// (logrus.Logger, per Config.Logger). It does not consume err: callers
// that also return it do so themselves. Its only callers are the
// keepalive release paths of the executor and the pipeline, which log a
// failed release and still return the command's reply.
func (cl *Client) logWarn(event string, err error, fields logrus.Fields) {
	entry := cl.cfg.logger().WithField("event", event)
	if err != nil {
		entry = entry.WithError(err)
	}
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Warn(event)
}

func (cl *Client) logInfo(event string, fields logrus.Fields) {
	entry := cl.cfg.logger().WithField("event", event)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Info(event)
}
