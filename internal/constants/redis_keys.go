package constants

// Redis Key 统一格式: app:{module}:{entity}:{unique_id}
const (
	AppPrefix = "app"

	IngestModulePrefix = "ingest"
	JobModulePrefix    = "job"

	EntityLock   = "lock"
	EntityVector = "vector"

	// KeyIngestLock 单个文件入库的分布式锁 (STRING)
	// 格式: app:ingest:lock:{fileID}
	KeyIngestLock = AppPrefix + ":" + IngestModulePrefix + ":" + EntityLock + ":%s"

	// KeyJobDescriptionVector JD 查询向量缓存 (STRING, JSON)
	// 格式: app:job:vector:{md5(jd)}
	KeyJobDescriptionVector = AppPrefix + ":" + JobModulePrefix + ":" + EntityVector + ":%s"
)
