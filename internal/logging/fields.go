package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// AttachmentFields 提供数据库/崩溃 ID/命中状态字段，供附件缓存日志复用。
func AttachmentFields(database string, crashID int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"database":  database,
		"crash_id":  crashID,
		"cache_hit": cacheHit,
	}
}
